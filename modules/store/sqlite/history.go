package sqlite

import (
	"context"
	"fmt"

	"github.com/flemzord/taleturn/internal/provider"
)

// Save implements memory.HistoryStore.
func (s *Store) Save(ctx context.Context, sessionID string, round int, messages []provider.LLMMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, round, seq, role, content)
			VALUES (?, ?, COALESCE((SELECT MAX(seq) FROM messages WHERE session_id = ?), 0) + 1, ?, ?)`,
			sessionID, round, sessionID, string(msg.Role), msg.Content,
		)
		if err != nil {
			return fmt.Errorf("sqlite: save message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save: %w", err)
	}
	return nil
}

// Query implements memory.HistoryStore.
func (s *Store) Query(ctx context.Context, sessionID string, fromRound, toRound int) ([]provider.LLMMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content
		FROM messages
		WHERE session_id = ? AND round >= ? AND round < ?
		ORDER BY round ASC, seq ASC`,
		sessionID, fromRound, toRound,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []provider.LLMMessage
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msgs = append(msgs, provider.LLMMessage{Role: provider.MessageRole(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query history rows: %w", err)
	}
	return msgs, nil
}

// DeleteAll implements memory.HistoryStore.
func (s *Store) DeleteAll(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete history: %w", err)
	}
	return int(n), nil
}
