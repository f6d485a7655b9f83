package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/flemzord/taleturn/internal/memory"
	"github.com/flemzord/taleturn/internal/provider"
)

func userMsg(content string) provider.LLMMessage {
	return provider.LLMMessage{Role: provider.MessageRoleUser, Content: content}
}

func assistantMsg(content string) provider.LLMMessage {
	return provider.LLMMessage{Role: provider.MessageRoleAssistant, Content: content}
}

func TestInMemoryHistoryStore_QueryOrdersByRoundThenInsertion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewInMemoryHistoryStore()

	// Rounds saved out of order; two batches in round 2.
	mustSave(t, store, "s1", 3, userMsg("r3-u"), assistantMsg("r3-a"))
	mustSave(t, store, "s1", 1, userMsg("r1-u"), assistantMsg("r1-a"))
	mustSave(t, store, "s1", 2, userMsg("r2-u"), assistantMsg("r2-a"))
	mustSave(t, store, "s1", 2, userMsg("r2-parse"), assistantMsg("r2-json"))

	got, err := store.Query(ctx, "s1", 1, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"r1-u", "r1-a", "r2-u", "r2-a", "r2-parse", "r2-json"}
	if len(got) != len(want) {
		t.Fatalf("Query returned %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Errorf("Query[%d] = %q, want %q", i, got[i].Content, want[i])
		}
	}
}

func TestInMemoryHistoryStore_QueryBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from, to int
		want     int
	}{
		{name: "full_range", from: 1, to: 6, want: 5},
		{name: "upper_exclusive", from: 1, to: 5, want: 4},
		{name: "middle", from: 2, to: 4, want: 2},
		{name: "empty_range", from: 3, to: 3, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := memory.NewInMemoryHistoryStore()
			for r := 1; r <= 5; r++ {
				mustSave(t, store, "s1", r, userMsg(fmt.Sprintf("r%d", r)))
			}
			got, err := store.Query(context.Background(), "s1", tt.from, tt.to)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Query(%d, %d) returned %d, want %d", tt.from, tt.to, len(got), tt.want)
			}
		})
	}
}

func TestInMemoryHistoryStore_DeleteAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewInMemoryHistoryStore()
	mustSave(t, store, "s1", 1, userMsg("a"), assistantMsg("b"))
	mustSave(t, store, "s1", 2, userMsg("c"))
	mustSave(t, store, "s2", 1, userMsg("other"))

	n, err := store.DeleteAll(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteAll removed %d, want 3", n)
	}

	if got, _ := store.Query(ctx, "s1", 1, 10); len(got) != 0 {
		t.Errorf("s1 still has %d messages", len(got))
	}
	if got, _ := store.Query(ctx, "s2", 1, 10); len(got) != 1 {
		t.Errorf("s2 has %d messages, want 1", len(got))
	}
	if n, _ := store.DeleteAll(ctx, "missing"); n != 0 {
		t.Errorf("DeleteAll(missing) = %d, want 0", n)
	}
}

func TestInMemoryHistoryStore_ConcurrentSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewInMemoryHistoryStore()

	var wg sync.WaitGroup
	for s := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := fmt.Sprintf("s%d", s)
			for r := 1; r <= 20; r++ {
				if err := store.Save(ctx, session, r, []provider.LLMMessage{userMsg("u"), assistantMsg("a")}); err != nil {
					t.Errorf("Save: %v", err)
				}
				if _, err := store.Query(ctx, session, 1, r); err != nil {
					t.Errorf("Query: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	for s := range 8 {
		got, _ := store.Query(ctx, fmt.Sprintf("s%d", s), 1, 21)
		if len(got) != 40 {
			t.Errorf("session s%d has %d messages, want 40", s, len(got))
		}
	}
}

func mustSave(t *testing.T, store memory.HistoryStore, session string, round int, msgs ...provider.LLMMessage) {
	t.Helper()
	if err := store.Save(context.Background(), session, round, msgs); err != nil {
		t.Fatalf("Save(%s, %d): %v", session, round, err)
	}
}
