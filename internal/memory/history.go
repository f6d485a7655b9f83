// Package memory provides per-round conversation history: the store
// interface with an in-memory implementation, and the HistoryManager that
// windows, budgets and compacts history for a turn prompt.
package memory

import (
	"context"
	"errors"

	"github.com/flemzord/taleturn/internal/provider"
)

// ErrStoreUnavailable indicates the backing store cannot serve requests.
var ErrStoreUnavailable = errors.New("memory: history store unavailable")

// HistoryStore persists conversation messages keyed by session and round.
// Implementations must be safe for concurrent use and must return
// messages ordered by round, then insertion order.
type HistoryStore interface {
	// Save appends messages to the given round of a session.
	Save(ctx context.Context, sessionID string, round int, messages []provider.LLMMessage) error

	// Query returns the messages whose round is in [fromRound, toRound).
	Query(ctx context.Context, sessionID string, fromRound, toRound int) ([]provider.LLMMessage, error)

	// DeleteAll removes every message of a session and returns how many
	// were removed.
	DeleteAll(ctx context.Context, sessionID string) (int, error)
}
