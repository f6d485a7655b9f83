// Package extract normalizes raw completion payloads. Provider response
// shapes are handled by an ordered chain of unwrap strategies; the
// unwrapped text is then searched by an ordered chain of block
// strategies for an embedded structured turn payload.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/taleturn/internal/game"
)

// Sentinel errors for extraction.
var (
	// ErrNoContent indicates the payload carried neither text nor a record.
	ErrNoContent = errors.New("extract: payload has no content")

	// ErrNoStructuredBlock indicates the text held no parsable structured block.
	ErrNoStructuredBlock = errors.New("extract: no structured block found")
)

// Outcome is the legacy per-entity summary derived from a panel.
type Outcome struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Cash     float64 `json:"cash"`
	Broken   bool    `json:"broken,omitempty"`
	Message  string  `json:"message"`
}

// Event is the legacy event record.
type Event struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Sentiment   string `json:"sentiment,omitempty"`
}

// Result is a normalized completion.
type Result struct {
	// Narrative is always set on success; for unstructured replies it is
	// the raw text.
	Narrative string
	Outcomes  []Outcome
	Events    []Event

	// Data is the decoded structured payload, nil when none was found.
	Data *game.TurnData

	// Fields preserves every field of the structured payload, including
	// ones TurnData does not model.
	Fields map[string]any

	// Structured reports whether a structured payload was found. A false
	// value with a nil error is a degraded success.
	Structured bool

	// Source names the unwrap strategy that matched.
	Source string

	// Text is the unwrapped reply text before any block was cut out of
	// it. It is empty when the payload was already a record.
	Text string
}

// Extract unwraps payload according to the provider tag and parses the
// result. It fails only when the payload carries no content at all.
func Extract(payload any, providerTag string) (Result, error) {
	for _, s := range unwrapChain(providerTag) {
		u, ok := s.fn(payload)
		if !ok {
			continue
		}
		var res Result
		if u.record != nil {
			res = FromRecord(u.record)
		} else {
			res = ParseText(u.text)
			res.Text = strings.TrimSpace(u.text)
		}
		res.Source = s.name
		if strings.TrimSpace(res.Narrative) == "" && !res.Structured {
			return Result{}, fmt.Errorf("%w (via %s)", ErrNoContent, s.name)
		}
		return res, nil
	}
	return Result{}, ErrNoContent
}

// ParseText searches text for a structured block. When none parses the
// raw text is returned as the narrative with Structured=false.
func ParseText(text string) Result {
	for _, s := range blockChain {
		for _, c := range s.find(text) {
			fields, ok := parseBlock(c)
			if !ok {
				continue
			}
			res := FromRecord(fields)
			rest := strings.TrimSpace(strings.Replace(text, c.raw, "", 1))
			if rest != "" {
				res.Narrative = rest
			}
			return res
		}
	}
	return Result{Narrative: strings.TrimSpace(text)}
}

// FromRecord maps an already-structured object. Legacy outcome and event
// arrays are derived from panels and events.
func FromRecord(fields map[string]any) Result {
	res := Result{Fields: fields, Structured: true}

	var data game.TurnData
	if raw, err := json.Marshal(fields); err == nil {
		// Partial decode is acceptable: unknown shapes leave zero values.
		_ = json.Unmarshal(raw, &data)
	}
	res.Data = &data

	if s, ok := fields["narrative"].(string); ok {
		res.Narrative = strings.TrimSpace(s)
	}

	res.Outcomes = legacyOutcomes(fields, data.Panels)
	res.Events = legacyEvents(fields, data.Events)
	return res
}

// legacyOutcomes prefers an explicit outcomes array, else one outcome
// per panel.
func legacyOutcomes(fields map[string]any, panels []game.EntityPanel) []Outcome {
	if raw, ok := fields["outcomes"]; ok {
		var outcomes []Outcome
		if decodeInto(raw, &outcomes) == nil && len(outcomes) > 0 {
			return outcomes
		}
	}
	if len(panels) == 0 {
		return []Outcome{}
	}
	out := make([]Outcome, 0, len(panels))
	for _, p := range panels {
		o := Outcome{EntityID: p.ID, Name: p.Name, Cash: p.Cash, Broken: p.Broken}
		if p.Broken {
			o.Message = fmt.Sprintf("%s is bankrupt and out of the game", displayName(p))
		} else {
			o.Message = fmt.Sprintf("%s now holds %.0f cash (%+.0f this round)",
				displayName(p), p.Cash, p.Delta["cash"])
		}
		out = append(out, o)
	}
	return out
}

func legacyEvents(fields map[string]any, events []game.TurnEvent) []Event {
	if len(events) == 0 {
		if raw, ok := fields["events"]; ok {
			var legacy []Event
			if decodeInto(raw, &legacy) == nil {
				return legacy
			}
		}
		return []Event{}
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		out = append(out, Event{Title: e.Title, Description: e.Description, Sentiment: e.Sentiment})
	}
	return out
}

func displayName(p game.EntityPanel) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func decodeInto(v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
