package memory

import (
	"context"
	"log/slog"

	ctxengine "github.com/flemzord/taleturn/internal/context"
	"github.com/flemzord/taleturn/internal/provider"
)

// HistoryConfig controls how much prior conversation a turn sees.
type HistoryConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxRounds          int  `yaml:"max_rounds"`
	MaxTokens          int  `yaml:"max_tokens"`
	SummarizeOldRounds bool `yaml:"summarize_old_rounds"`

	// BudgetFraction is the share of MaxTokens kept as whole recent
	// rounds when compacting.
	BudgetFraction float64 `yaml:"budget_fraction"`
}

// DefaultHistoryConfig returns the process-wide default.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:            true,
		MaxRounds:          10,
		MaxTokens:          6000,
		SummarizeOldRounds: true,
		BudgetFraction:     ctxengine.DefaultBudgetFraction,
	}
}

// HistoryManager retrieves, budgets and compacts prior-turn history.
// Store failures never abort a turn: reads degrade to empty history and
// writes are logged.
type HistoryManager struct {
	store     HistoryStore
	estimator ctxengine.TokenEstimator
	config    HistoryConfig
	logger    *slog.Logger
}

// ManagerOption configures a HistoryManager.
type ManagerOption func(*HistoryManager)

// WithLogger sets the logger used for store failures.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *HistoryManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEstimator sets the token estimator used for budgeting.
func WithEstimator(e ctxengine.TokenEstimator) ManagerOption {
	return func(m *HistoryManager) {
		if e != nil {
			m.estimator = e
		}
	}
}

// NewHistoryManager creates a HistoryManager over store with cfg as the
// default configuration.
func NewHistoryManager(store HistoryStore, cfg HistoryConfig, opts ...ManagerOption) *HistoryManager {
	m := &HistoryManager{
		store:     store,
		estimator: ctxengine.NewScriptEstimator(0),
		config:    cfg,
		logger:    provider.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the default configuration.
func (m *HistoryManager) Config() HistoryConfig {
	return m.config
}

// Retrieve returns the bounded history preceding currentRound. A non-nil
// override replaces the default configuration for this call.
func (m *HistoryManager) Retrieve(ctx context.Context, sessionID string, currentRound int, override *HistoryConfig) []provider.LLMMessage {
	cfg := m.config
	if override != nil {
		cfg = *override
	}
	if !cfg.Enabled || m.store == nil {
		return []provider.LLMMessage{}
	}

	from := 1
	if cfg.MaxRounds > 0 {
		from = max(1, currentRound-cfg.MaxRounds)
	}
	if from >= currentRound {
		return []provider.LLMMessage{}
	}

	history, err := m.store.Query(ctx, sessionID, from, currentRound)
	if err != nil {
		m.logger.Warn("history: query failed, continuing without history",
			"session_id", sessionID, "round", currentRound, "error", err)
		return []provider.LLMMessage{}
	}
	if len(history) == 0 {
		return []provider.LLMMessage{}
	}

	if !cfg.SummarizeOldRounds || cfg.MaxTokens <= 0 {
		return history
	}

	compactor := ctxengine.NewRoundCompactor(m.estimator, ctxengine.CompactionConfig{
		MaxTokens:      cfg.MaxTokens,
		BudgetFraction: cfg.BudgetFraction,
	})
	compacted := compactor.Compact(history)
	if len(compacted) != len(history) {
		m.logger.Debug("history: compacted",
			"session_id", sessionID, "round", currentRound,
			"before", len(history), "after", len(compacted))
	}
	return compacted
}

// Append stores messages for a round. Failures are logged and returned;
// callers on the turn path ignore them.
func (m *HistoryManager) Append(ctx context.Context, sessionID string, round int, messages ...provider.LLMMessage) error {
	if m.store == nil || len(messages) == 0 {
		return nil
	}
	if err := m.store.Save(ctx, sessionID, round, messages); err != nil {
		m.logger.Error("history: save failed",
			"session_id", sessionID, "round", round, "messages", len(messages), "error", err)
		return err
	}
	return nil
}

// Clear removes the session's history.
func (m *HistoryManager) Clear(ctx context.Context, sessionID string) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	n, err := m.store.DeleteAll(ctx, sessionID)
	if err != nil {
		m.logger.Error("history: delete failed", "session_id", sessionID, "error", err)
		return 0, err
	}
	return n, nil
}
