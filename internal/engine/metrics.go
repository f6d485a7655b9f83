package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	turns         *prometheus.CounterVec
	calls         *prometheus.CounterVec
	attempts      *prometheus.HistogramVec
	duration      *prometheus.HistogramVec
	loreTriggered prometheus.Counter
}

// Turn outcomes.
const (
	OutcomeCompleted       = "completed"
	OutcomeParserFailed    = "parser_failed"
	OutcomeNarrativeFailed = "narrative_failed"
)

// NewMetrics creates the collectors and registers them with reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taleturn",
			Name:      "turns_total",
			Help:      "Turns run, by outcome.",
		}, []string{"outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taleturn",
			Name:      "calls_total",
			Help:      "Completion calls, by role and result.",
		}, []string{"role", "result"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taleturn",
			Name:      "call_attempts",
			Help:      "Attempts used per completion call.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"role"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taleturn",
			Name:      "call_duration_seconds",
			Help:      "Wall time of completion calls including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"role"}),
		loreTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taleturn",
			Name:      "lore_entries_triggered_total",
			Help:      "Lorebook entries fired by prompts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.calls, m.attempts, m.duration, m.loreTriggered)
	}
	return m
}

func (m *Metrics) turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) call(role, result string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(role, result).Inc()
	if attempts > 0 {
		m.attempts.WithLabelValues(role).Observe(float64(attempts))
	}
	m.duration.WithLabelValues(role).Observe(elapsed.Seconds())
}

// LoreTriggered counts fired lorebook entries. It matches the lorebook
// trigger hook signature.
func (m *Metrics) LoreTriggered(n int) {
	if m == nil {
		return
	}
	m.loreTriggered.Add(float64(n))
}
