package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a key exceeds its rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// KeyedLimiter is a sliding-window limiter with one window per key,
// typically a session id. A zero or negative limit disables limiting.
type KeyedLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	buckets map[string][]time.Time
	now     func() time.Time
}

// NewKeyedLimiter allows limit events per key in every window.
func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &KeyedLimiter{
		window:  window,
		limit:   limit,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records an event for key, or returns ErrRateLimited.
func (l *KeyedLimiter) Allow(key string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	events := evict(l.buckets[key], now.Add(-l.window))
	if len(events) >= l.limit {
		l.buckets[key] = events
		return ErrRateLimited
	}
	l.buckets[key] = append(events, now)
	return nil
}

// Forget drops the window of key.
func (l *KeyedLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Prune drops keys whose windows are empty. It returns how many keys remain.
func (l *KeyedLimiter) Prune() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for k, events := range l.buckets {
		if events = evict(events, cutoff); len(events) == 0 {
			delete(l.buckets, k)
		} else {
			l.buckets[k] = events
		}
	}
	return len(l.buckets)
}

// evict removes events before cutoff. Events are chronological.
func evict(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}
