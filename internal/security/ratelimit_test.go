package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedLimiter_PerKeyWindows(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewKeyedLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	for range 2 {
		if err := l.Allow("s1"); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
	if err := l.Allow("s1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third event = %v, want ErrRateLimited", err)
	}
	if err := l.Allow("s2"); err != nil {
		t.Errorf("other key limited: %v", err)
	}

	now = now.Add(61 * time.Second)
	if err := l.Allow("s1"); err != nil {
		t.Errorf("window did not slide: %v", err)
	}
}

func TestKeyedLimiter_DisabledAndNil(t *testing.T) {
	t.Parallel()

	var nilLimiter *KeyedLimiter
	if err := nilLimiter.Allow("x"); err != nil {
		t.Errorf("nil limiter = %v", err)
	}
	l := NewKeyedLimiter(0, 0)
	for range 100 {
		if err := l.Allow("x"); err != nil {
			t.Fatalf("disabled limiter = %v", err)
		}
	}
}

func TestKeyedLimiter_PruneAndForget(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewKeyedLimiter(5, time.Minute)
	l.now = func() time.Time { return now }

	_ = l.Allow("old")
	now = now.Add(2 * time.Minute)
	_ = l.Allow("fresh")
	_ = l.Allow("gone")
	l.Forget("gone")

	if remaining := l.Prune(); remaining != 1 {
		t.Errorf("Prune left %d keys, want 1", remaining)
	}
}

func TestKeyedLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	l := NewKeyedLimiter(50, time.Minute)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("s") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed %d events, want 50", allowed)
	}
}
