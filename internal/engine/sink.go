package engine

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/taleturn/internal/game"
)

// TurnRecord is the durable record of one turn, keyed by session and round.
type TurnRecord struct {
	SessionID string `json:"session_id"`
	Round     int    `json:"round"`

	Narrative       string      `json:"narrative"`
	NarrativeAt     time.Time   `json:"narrative_at"`
	NarrativeStatus game.Status `json:"narrative_status"`

	Structured       *game.TurnData `json:"structured,omitempty"`
	StructuredAt     time.Time      `json:"structured_at,omitzero"`
	StructuredStatus game.Status    `json:"structured_status"`
	StructuredError  string         `json:"structured_error,omitempty"`
}

// TurnSink durably records turn results. A completed narrative is
// immutable; a structured result may be overwritten until it completes.
// Implementations must be safe for concurrent use.
type TurnSink interface {
	// SaveNarrative records the narrative half. It returns
	// ErrNarrativeFinal if a completed narrative exists.
	SaveNarrative(ctx context.Context, res game.NarrativeResult) error

	// SaveStructured records the structured half. It returns
	// ErrStructuredFinal if a completed structured result exists.
	SaveStructured(ctx context.Context, res game.StructuredResult) error

	// Load returns the record of a round, or ErrTurnNotFound.
	Load(ctx context.Context, sessionID string, round int) (TurnRecord, error)

	// DeleteSession removes every record of a session.
	DeleteSession(ctx context.Context, sessionID string) (int, error)
}

type turnKey struct {
	session string
	round   int
}

// MemorySink is an in-memory TurnSink.
type MemorySink struct {
	mu      sync.RWMutex
	records map[turnKey]TurnRecord
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[turnKey]TurnRecord)}
}

// Compile-time interface check.
var _ TurnSink = (*MemorySink)(nil)

// SaveNarrative implements TurnSink.
func (s *MemorySink) SaveNarrative(_ context.Context, res game.NarrativeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := turnKey{res.SessionID, res.Round}
	rec, ok := s.records[key]
	if ok && rec.NarrativeStatus == game.StatusCompleted {
		return ErrNarrativeFinal
	}
	if !ok {
		rec = TurnRecord{SessionID: res.SessionID, Round: res.Round, StructuredStatus: game.StatusPending}
	}
	rec.Narrative = res.Narrative
	rec.NarrativeAt = res.GeneratedAt
	rec.NarrativeStatus = res.Status
	s.records[key] = rec
	return nil
}

// SaveStructured implements TurnSink.
func (s *MemorySink) SaveStructured(_ context.Context, res game.StructuredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := turnKey{res.SessionID, res.Round}
	rec, ok := s.records[key]
	if ok && rec.StructuredStatus == game.StatusCompleted {
		return ErrStructuredFinal
	}
	if !ok {
		rec = TurnRecord{SessionID: res.SessionID, Round: res.Round, NarrativeStatus: game.StatusPending}
	}
	rec.Structured = res.Data
	rec.StructuredAt = res.GeneratedAt
	rec.StructuredStatus = res.Status
	rec.StructuredError = res.Error
	s.records[key] = rec
	return nil
}

// Load implements TurnSink.
func (s *MemorySink) Load(_ context.Context, sessionID string, round int) (TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[turnKey{sessionID, round}]
	if !ok {
		return TurnRecord{}, ErrTurnNotFound
	}
	return rec, nil
}

// DeleteSession implements TurnSink.
func (s *MemorySink) DeleteSession(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.records {
		if k.session == sessionID {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
