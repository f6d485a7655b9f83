package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/flemzord/taleturn/internal/provider"
)

// sessionData holds the rounds of a single session.
type sessionData struct {
	mu     sync.RWMutex
	rounds map[int][]provider.LLMMessage
}

// InMemoryHistoryStore is a thread-safe, in-memory implementation of
// HistoryStore. Sessions are independent: writers to one session never
// block readers of another.
type InMemoryHistoryStore struct {
	sessions sync.Map // sessionID → *sessionData
}

// NewInMemoryHistoryStore creates a new empty history store.
func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{}
}

// Compile-time interface check.
var _ HistoryStore = (*InMemoryHistoryStore)(nil)

func (s *InMemoryHistoryStore) getOrCreate(sessionID string) *sessionData {
	if v, ok := s.sessions.Load(sessionID); ok {
		return v.(*sessionData)
	}
	v, _ := s.sessions.LoadOrStore(sessionID, &sessionData{rounds: make(map[int][]provider.LLMMessage)})
	return v.(*sessionData)
}

// Save appends messages to the given round of a session.
func (s *InMemoryHistoryStore) Save(_ context.Context, sessionID string, round int, messages []provider.LLMMessage) error {
	if len(messages) == 0 {
		return nil
	}
	sd := s.getOrCreate(sessionID)
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.rounds[round] = append(sd.rounds[round], messages...)
	return nil
}

// Query returns the messages whose round is in [fromRound, toRound).
func (s *InMemoryHistoryStore) Query(_ context.Context, sessionID string, fromRound, toRound int) ([]provider.LLMMessage, error) {
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, nil
	}
	sd := v.(*sessionData)
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	rounds := make([]int, 0, len(sd.rounds))
	for r := range sd.rounds {
		if r >= fromRound && r < toRound {
			rounds = append(rounds, r)
		}
	}
	sort.Ints(rounds)

	var result []provider.LLMMessage
	for _, r := range rounds {
		result = append(result, sd.rounds[r]...)
	}
	return result, nil
}

// DeleteAll removes every message of a session.
func (s *InMemoryHistoryStore) DeleteAll(_ context.Context, sessionID string) (int, error) {
	v, ok := s.sessions.LoadAndDelete(sessionID)
	if !ok {
		return 0, nil
	}
	sd := v.(*sessionData)
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	n := 0
	for _, msgs := range sd.rounds {
		n += len(msgs)
	}
	return n, nil
}
