package gateway

import (
	"encoding/json"
	"time"

	"github.com/flemzord/taleturn/internal/game"
)

// MessageType identifies a broadcast message.
type MessageType string

// Broadcast message types.
const (
	MsgNarrativeReady   MessageType = "narrative_ready"
	MsgStructuredReady  MessageType = "structured_ready"
	MsgStructuredFailed MessageType = "structured_failed"
)

// Envelope is the wire format of every websocket message.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NarrativeReady is broadcast as soon as a round's narrative is final.
type NarrativeReady struct {
	SessionID string    `json:"session_id"`
	Round     int       `json:"round"`
	Narrative string    `json:"narrative"`
	Timestamp time.Time `json:"timestamp"`
}

// StructuredReady is broadcast when the parser produced turn data.
type StructuredReady struct {
	SessionID string         `json:"session_id"`
	Round     int            `json:"round"`
	Data      *game.TurnData `json:"structured_data"`
	Timestamp time.Time      `json:"timestamp"`
}

// StructuredFailed is broadcast when parsing failed. The narrative of
// the round stays valid.
type StructuredFailed struct {
	SessionID string    `json:"session_id"`
	Round     int       `json:"round"`
	Error     string    `json:"error"`
	CanRetry  bool      `json:"can_retry"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(t MessageType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

func narrativeEnvelope(n game.NarrativeResult) (Envelope, error) {
	return newEnvelope(MsgNarrativeReady, NarrativeReady{
		SessionID: n.SessionID,
		Round:     n.Round,
		Narrative: n.Narrative,
		Timestamp: n.GeneratedAt,
	})
}

func structuredEnvelope(s game.StructuredResult) (Envelope, error) {
	if s.Status == game.StatusCompleted {
		return newEnvelope(MsgStructuredReady, StructuredReady{
			SessionID: s.SessionID,
			Round:     s.Round,
			Data:      s.Data,
			Timestamp: s.GeneratedAt,
		})
	}
	return newEnvelope(MsgStructuredFailed, StructuredFailed{
		SessionID: s.SessionID,
		Round:     s.Round,
		Error:     s.Error,
		CanRetry:  s.CanRetry,
		Timestamp: s.GeneratedAt,
	})
}
