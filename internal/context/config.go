// Package ctxengine implements context management for turn prompts:
// token estimation, per-round grouping of conversation history, and
// compaction of old rounds into one-line synopses.
package ctxengine

// DefaultBudgetFraction is the share of the token ceiling that retained
// recent rounds may occupy after compaction.
const DefaultBudgetFraction = 0.7

// CompactionConfig holds the tuning knobs for history compaction.
type CompactionConfig struct {
	// MaxTokens is the ceiling above which history is compacted.
	// 0 disables compaction.
	MaxTokens int

	// BudgetFraction is the share of MaxTokens kept as whole recent rounds.
	BudgetFraction float64

	// SynopsisKeywords caps the keywords listed per synopsized round.
	SynopsisKeywords int

	// SynopsisRunes caps the fallback excerpt of a synopsized round.
	SynopsisRunes int
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// sensible defaults.
func (cfg CompactionConfig) withDefaults() CompactionConfig {
	if cfg.BudgetFraction <= 0 || cfg.BudgetFraction > 1 {
		cfg.BudgetFraction = DefaultBudgetFraction
	}
	if cfg.SynopsisKeywords <= 0 {
		cfg.SynopsisKeywords = 3
	}
	if cfg.SynopsisRunes <= 0 {
		cfg.SynopsisRunes = 100
	}
	return cfg
}

// Budget returns the token budget for retained rounds.
func (cfg CompactionConfig) Budget() int {
	cfg = cfg.withDefaults()
	return int(float64(cfg.MaxTokens) * cfg.BudgetFraction)
}
