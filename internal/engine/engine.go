// Package engine orchestrates a turn: a narrative call whose text is
// final as soon as it arrives, then a parser call that turns the
// narrative into structured turn data. The two calls are sequential.
// History, lorebook and the turn sink are injected so one Engine serves
// every session of a process.
package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/lorebook"
	"github.com/flemzord/taleturn/internal/memory"
	"github.com/flemzord/taleturn/internal/provider"
)

const tracerName = "github.com/flemzord/taleturn/internal/engine"

// Config holds the per-role call policies and the lore budget.
type Config struct {
	Narrative     provider.Policy `yaml:"narrative"`
	Parser        provider.Policy `yaml:"parser"`
	LoreMaxTokens int             `yaml:"lore_max_tokens"`
}

func (c Config) withDefaults() Config {
	if c.Narrative.MaxAttempts <= 0 {
		c.Narrative.MaxAttempts = 3
	}
	if c.Narrative.Timeout <= 0 {
		c.Narrative.Timeout = 120 * time.Second
	}
	if c.Parser.MaxAttempts <= 0 {
		c.Parser.MaxAttempts = 3
	}
	if c.Parser.Timeout <= 0 {
		c.Parser.Timeout = 60 * time.Second
	}
	if c.LoreMaxTokens <= 0 {
		c.LoreMaxTokens = 800
	}
	return c
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithLogger injects a structured logger. When nil or omitted, all log
// output is discarded.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSink sets where turn results are recorded. The default is a
// MemorySink.
func WithSink(s TurnSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics sets the prometheus collectors the engine updates.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets the provider spans are created from. The
// default is the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs turns. It is safe for concurrent use by turns of distinct
// (session, round) pairs.
type Engine struct {
	executor *provider.Executor
	history  *memory.HistoryManager
	lore     *lorebook.Engine
	rosters  *rosterStore
	sink     TurnSink
	config   Config
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates an Engine.
func New(executor *provider.Executor, history *memory.HistoryManager, lore *lorebook.Engine, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		executor: executor,
		history:  history,
		lore:     lore,
		rosters:  newRosterStore(),
		config:   cfg.withDefaults(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = provider.NopLogger()
	}
	if e.sink == nil {
		e.sink = NewMemorySink()
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Sink returns the turn sink results are recorded in.
func (e *Engine) Sink() TurnSink {
	return e.sink
}

// History returns the history manager.
func (e *Engine) History() *memory.HistoryManager {
	return e.history
}

// Lorebook returns the lorebook engine.
func (e *Engine) Lorebook() *lorebook.Engine {
	return e.lore
}

// Roster returns the latest roster known for a session: the entities of
// its world data with the panels of completed rounds folded in. It is
// nil for a session the engine has not seen.
func (e *Engine) Roster(sessionID string) []game.Entity {
	return e.rosters.get(sessionID, e.now())
}

// Sweep clears the lorebooks and rosters of sessions idle longer than
// maxIdle and returns the sessions whose lorebook was cleared.
func (e *Engine) Sweep(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cleared := e.lore.Sweep(maxIdle)
	for _, id := range cleared {
		e.rosters.clear(id)
	}
	if dropped := e.rosters.sweep(e.now().Add(-maxIdle)); len(dropped) > 0 {
		e.logger.Info("engine: dropped idle rosters", "count", len(dropped))
	}
	return cleared
}
