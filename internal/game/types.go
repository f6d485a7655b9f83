// Package game defines the turn-level data model shared by the prompt
// builder, the response extractor, the lorebook and the orchestrator.
package game

import (
	"encoding/json"
	"time"
)

// Decision is one actor's input for a round.
type Decision struct {
	// ActorIndex is the zero-based index of the acting entity in the roster.
	ActorIndex int `json:"actor_index"`
	// Action is the free-text action typed by the player.
	Action string `json:"action"`
	// SelectedOptions lists the ids of decision options picked from the
	// previous round's structured result.
	SelectedOptions []string `json:"selected_options,omitempty"`
	// Payload is an optional structured action (e.g. a trade order).
	Payload json.RawMessage `json:"payload,omitempty"`
	// HostOverride replaces the action outcome when the host intervenes.
	HostOverride string `json:"host_override,omitempty"`
}

// Progress tracks a multi-round event.
type Progress struct {
	Current          int `json:"current"`
	Total            int `json:"total"`
	LastUpdatedRound int `json:"last_updated_round"`
}

// Percent returns the completion percentage, clamped to [0, 100].
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	pct := p.Current * 100 / p.Total
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// ActiveEvent is an event still affecting the world.
type ActiveEvent struct {
	Type            string   `json:"type"`
	Content         string   `json:"content"`
	EffectiveRounds int      `json:"effective_rounds"`
	Progress        Progress `json:"progress"`
}

// Entity is a player-controlled actor in the world roster.
type Entity struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Cash           float64            `json:"cash"`
	Attributes     map[string]float64 `json:"attributes,omitempty"`
	PassiveIncome  float64            `json:"passive_income,omitempty"`
	PassiveExpense float64            `json:"passive_expense,omitempty"`
	Backstory      string             `json:"backstory,omitempty"`
}

// Omen is the session's thematic oracle sign.
type Omen struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// WorldInit is produced when a session starts and describes the setting.
type WorldInit struct {
	BackgroundStory string   `json:"background_story"`
	Entities        []Entity `json:"entities"`
	Omen            *Omen    `json:"omen,omitempty"`
}

// InferenceRequest is the input of one turn. The engine treats it as
// read-only.
type InferenceRequest struct {
	SessionID    string        `json:"session_id"`
	Round        int           `json:"round"`
	Decisions    []Decision    `json:"decisions"`
	ActiveEvents []ActiveEvent `json:"active_events,omitempty"`
	GameRules    string        `json:"game_rules,omitempty"`
	WorldInit    *WorldInit    `json:"world_init,omitempty"`
	CustomLore   []LoreEntry   `json:"custom_lore,omitempty"`
}

// LoreEntry is a caller-supplied lorebook entry. It fires whenever a
// prompt mentions one of its keywords.
type LoreEntry struct {
	ID             string   `json:"id"`
	Keywords       []string `json:"keywords"`
	Content        string   `json:"content"`
	Priority       int      `json:"priority,omitempty"`
	MaxActivations int      `json:"max_activations,omitempty"`
	Disabled       bool     `json:"disabled,omitempty"`
}

// Roster returns the entity roster carried by the request, if any.
func (r InferenceRequest) Roster() []Entity {
	if r.WorldInit == nil {
		return nil
	}
	return r.WorldInit.Entities
}

// Status is the lifecycle state of a narrative or structured result.
type Status string

// Status values.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// NarrativeResult is the output of the narrative call for one turn.
type NarrativeResult struct {
	SessionID   string    `json:"session_id"`
	Round       int       `json:"round"`
	Narrative   string    `json:"narrative"`
	GeneratedAt time.Time `json:"generated_at"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// StructuredResult is the output of the parser call for one turn.
type StructuredResult struct {
	SessionID   string    `json:"session_id"`
	Round       int       `json:"round"`
	Data        *TurnData `json:"data,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CanRetry    bool      `json:"can_retry,omitempty"`
}
