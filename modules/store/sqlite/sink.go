package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/game"
)

// SaveNarrative implements engine.TurnSink. The upsert leaves a completed
// narrative untouched, which is reported as engine.ErrNarrativeFinal.
func (s *Store) SaveNarrative(ctx context.Context, res game.NarrativeResult) error {
	r, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, round, narrative, narrative_at, narrative_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, round) DO UPDATE SET
			narrative = excluded.narrative,
			narrative_at = excluded.narrative_at,
			narrative_status = excluded.narrative_status
		WHERE turns.narrative_status != 'completed'`,
		res.SessionID, res.Round, res.Narrative, formatTime(res.GeneratedAt), string(res.Status),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save narrative: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil && n == 0 {
		return engine.ErrNarrativeFinal
	}
	return nil
}

// SaveStructured implements engine.TurnSink.
func (s *Store) SaveStructured(ctx context.Context, res game.StructuredResult) error {
	var data any
	if res.Data != nil {
		raw, err := json.Marshal(res.Data)
		if err != nil {
			return fmt.Errorf("sqlite: marshal structured data: %w", err)
		}
		data = string(raw)
	}

	r, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, round, structured, structured_at, structured_status, structured_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, round) DO UPDATE SET
			structured = excluded.structured,
			structured_at = excluded.structured_at,
			structured_status = excluded.structured_status,
			structured_error = excluded.structured_error
		WHERE turns.structured_status != 'completed'`,
		res.SessionID, res.Round, data, formatTime(res.GeneratedAt), string(res.Status), res.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save structured: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil && n == 0 {
		return engine.ErrStructuredFinal
	}
	return nil
}

// Load implements engine.TurnSink.
func (s *Store) Load(ctx context.Context, sessionID string, round int) (engine.TurnRecord, error) {
	var (
		rec                       engine.TurnRecord
		narrativeAt, structuredAt string
		narrativeSt, structuredSt string
		structured                sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT narrative, narrative_at, narrative_status, structured, structured_at, structured_status, structured_error
		FROM turns
		WHERE session_id = ? AND round = ?`,
		sessionID, round,
	).Scan(&rec.Narrative, &narrativeAt, &narrativeSt, &structured, &structuredAt, &structuredSt, &rec.StructuredError)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.TurnRecord{}, engine.ErrTurnNotFound
	}
	if err != nil {
		return engine.TurnRecord{}, fmt.Errorf("sqlite: load turn: %w", err)
	}

	rec.SessionID = sessionID
	rec.Round = round
	rec.NarrativeStatus = game.Status(narrativeSt)
	rec.StructuredStatus = game.Status(structuredSt)
	rec.NarrativeAt = parseTime(narrativeAt)
	rec.StructuredAt = parseTime(structuredAt)
	if structured.Valid {
		var data game.TurnData
		if err := json.Unmarshal([]byte(structured.String), &data); err != nil {
			return engine.TurnRecord{}, fmt.Errorf("sqlite: decode structured data: %w", err)
		}
		rec.Structured = &data
	}
	return rec, nil
}

// DeleteSession implements engine.TurnSink.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete turns: %w", err)
	}
	return int(n), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
