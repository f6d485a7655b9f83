package lorebook

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	ctxengine "github.com/flemzord/taleturn/internal/context"
	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/provider"
)

// book is the entry set of one session.
type book struct {
	mu      sync.Mutex
	entries []*Entry
	index   map[string]int // id → position in entries
	touched time.Time
	// dead is set once the book left the session map. Writers that find
	// a dead book retry against the current one.
	dead bool
}

func newBook(now time.Time) *book {
	return &book{index: make(map[string]int), touched: now}
}

// upsert inserts e or replaces the entry with the same id, keeping the
// activation count of the replaced entry. Callers hold b.mu.
func (b *book) upsert(e Entry) {
	if i, ok := b.index[e.ID]; ok {
		e.ActivationCount = b.entries[i].ActivationCount
		b.entries[i] = &e
		return
	}
	b.index[e.ID] = len(b.entries)
	b.entries = append(b.entries, &e)
}

// Engine holds the lorebooks of all live sessions. Each session has its
// own lock, so sessions never contend with each other.
type Engine struct {
	books     sync.Map // sessionID → *book
	estimator ctxengine.TokenEstimator
	logger    *slog.Logger
	now       func() time.Time
	onTrigger func(n int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEstimator sets the token estimator used for the injection budget.
func WithEstimator(est ctxengine.TokenEstimator) Option {
	return func(e *Engine) {
		if est != nil {
			e.estimator = est
		}
	}
}

// WithClock overrides time.Now for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTriggerHook registers a callback receiving the number of entries
// fired by each Triggered call.
func WithTriggerHook(fn func(n int)) Option {
	return func(e *Engine) {
		e.onTrigger = fn
	}
}

// New creates an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		estimator: ctxengine.NewScriptEstimator(0),
		logger:    provider.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) load(sessionID string) (*book, bool) {
	v, ok := e.books.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*book), true
}

func (e *Engine) loadOrCreate(sessionID string) *book {
	if b, ok := e.load(sessionID); ok {
		return b
	}
	v, _ := e.books.LoadOrStore(sessionID, newBook(e.now()))
	return v.(*book)
}

// lockLive returns the session's current book with its lock held,
// creating the book when needed.
func (e *Engine) lockLive(sessionID string) *book {
	for {
		b := e.loadOrCreate(sessionID)
		b.mu.Lock()
		if !b.dead {
			return b
		}
		b.mu.Unlock()
	}
}

// Initialize replaces the session's lorebook with entries seeded from
// world data plus any custom entries. Custom entries already present,
// such as those registered with Add, are carried into the new book
// unless a custom argument reuses their id. Seeded and captured entries
// of the old book are dropped. It returns the entry count.
func (e *Engine) Initialize(sessionID string, world *game.WorldInit, custom ...Entry) int {
	b := newBook(e.now())
	for _, entry := range seedEntries(world) {
		b.upsert(entry)
	}
	for _, entry := range custom {
		if entry.Category == "" {
			entry.Category = CategoryCustom
		}
		b.upsert(entry)
	}

	for {
		old, ok := e.load(sessionID)
		if !ok {
			if _, loaded := e.books.LoadOrStore(sessionID, b); !loaded {
				break
			}
			continue
		}
		old.mu.Lock()
		if old.dead {
			old.mu.Unlock()
			continue
		}
		for _, entry := range old.entries {
			if entry.Category != CategoryCustom {
				continue
			}
			if _, taken := b.index[entry.ID]; !taken {
				b.upsert(*entry)
			}
		}
		old.dead = true
		e.books.CompareAndSwap(sessionID, old, b)
		old.mu.Unlock()
		break
	}

	e.logger.Debug("lorebook: initialized", "session_id", sessionID, "entries", len(b.entries))
	return len(b.entries)
}

// Initialized reports whether the session has a lorebook.
func (e *Engine) Initialized(sessionID string) bool {
	_, ok := e.load(sessionID)
	return ok
}

// Triggered fires every enabled entry whose keywords occur in prompt and
// returns their content, highest priority first, as an injection block.
// Assembly stops at the first entry that would exceed maxTokens; entries
// are never cut. Firing increments an entry's activation count.
func (e *Engine) Triggered(sessionID, prompt string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	b, ok := e.load(sessionID)
	if !ok {
		return ""
	}

	lower := strings.ToLower(prompt)

	b.mu.Lock()
	if b.dead {
		b.mu.Unlock()
		return ""
	}
	b.touched = e.now()
	var fired []Entry
	for _, entry := range b.entries {
		if !entry.Enabled || entry.exhausted() || !entry.matches(lower) {
			continue
		}
		entry.ActivationCount++
		fired = append(fired, *entry)
	}
	b.mu.Unlock()

	if e.onTrigger != nil && len(fired) > 0 {
		e.onTrigger(len(fired))
	}
	if len(fired) == 0 {
		return ""
	}

	sort.SliceStable(fired, func(i, j int) bool {
		return fired[i].Priority > fired[j].Priority
	})

	var contents []string
	used := 0
	for _, entry := range fired {
		cost := e.estimator.Estimate(entry.Content)
		if used+cost > maxTokens {
			break
		}
		contents = append(contents, entry.Content)
		used += cost
	}

	e.logger.Debug("lorebook: triggered",
		"session_id", sessionID, "fired", len(fired), "injected", len(contents), "tokens", used)
	return FormatLore(contents)
}

// FormatLore renders lore contents as a prompt section. It returns an
// empty string for no contents.
func FormatLore(contents []string) string {
	if len(contents) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## World Lore\n\n")
	for _, c := range contents {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String()
}

// Add inserts or replaces an entry, creating the session's lorebook when
// needed. An entry without a category is filed as custom.
func (e *Engine) Add(sessionID string, entry Entry) {
	if entry.Category == "" {
		entry.Category = CategoryCustom
	}
	b := e.lockLive(sessionID)
	defer b.mu.Unlock()
	b.touched = e.now()
	b.upsert(entry)
}

// ExtractFromResult captures significant events and achievements of a
// structured turn result as event entries. Ids derive from round and
// index, so capturing the same result twice is a no-op. It returns the
// number of captured entries.
func (e *Engine) ExtractFromResult(sessionID string, round int, data *game.TurnData) int {
	captured := capturedEntries(round, data)
	if len(captured) == 0 {
		return 0
	}
	b := e.lockLive(sessionID)
	b.touched = e.now()
	for _, entry := range captured {
		b.upsert(entry)
	}
	b.mu.Unlock()

	e.logger.Debug("lorebook: captured", "session_id", sessionID, "round", round, "entries", len(captured))
	return len(captured)
}

// Entries returns a copy of the session's entries in insertion order.
func (e *Engine) Entries(sessionID string) []Entry {
	b, ok := e.load(sessionID)
	if !ok {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	for i, entry := range b.entries {
		out[i] = *entry
		out[i].Keywords = append([]string(nil), entry.Keywords...)
	}
	return out
}

// Clear drops the session's lorebook. It reports whether one existed.
func (e *Engine) Clear(sessionID string) bool {
	v, ok := e.books.LoadAndDelete(sessionID)
	if ok {
		b := v.(*book)
		b.mu.Lock()
		b.dead = true
		b.mu.Unlock()
	}
	return ok
}

// Sweep clears every lorebook untouched for longer than idle and returns
// the cleared session ids. Staleness is checked and the book removed
// under the book's lock, so a book touched meanwhile is kept.
func (e *Engine) Sweep(idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	cutoff := e.now().Add(-idle)
	var cleared []string
	e.books.Range(func(key, value any) bool {
		b := value.(*book)
		b.mu.Lock()
		if !b.dead && b.touched.Before(cutoff) && e.books.CompareAndDelete(key, b) {
			b.dead = true
			cleared = append(cleared, key.(string))
		}
		b.mu.Unlock()
		return true
	})
	sort.Strings(cleared)
	if len(cleared) > 0 {
		e.logger.Info("lorebook: swept idle sessions", "count", len(cleared))
	}
	return cleared
}

// Sessions returns the number of live lorebooks.
func (e *Engine) Sessions() int {
	n := 0
	e.books.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
