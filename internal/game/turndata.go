package game

// TurnData is the structured turn payload produced by the parser call.
// Every field is optional: a partially filled value is still valid.
type TurnData struct {
	Narrative        string             `json:"narrative,omitempty" yaml:"narrative,omitempty"`
	Panels           []EntityPanel      `json:"panels" yaml:"panels"`
	Leaderboard      []LeaderboardEntry `json:"leaderboard,omitempty" yaml:"leaderboard,omitempty"`
	Events           []TurnEvent        `json:"events,omitempty" yaml:"events,omitempty"`
	Options          []DecisionOption   `json:"options,omitempty" yaml:"options,omitempty"`
	Hexagram         *Hexagram          `json:"hexagram,omitempty" yaml:"hexagram,omitempty"`
	Ledger           *Ledger            `json:"ledger,omitempty" yaml:"ledger,omitempty"`
	Achievements     []Achievement      `json:"achievements,omitempty" yaml:"achievements,omitempty"`
	Risks            []string           `json:"risks,omitempty" yaml:"risks,omitempty"`
	Opportunities    []string           `json:"opportunities,omitempty" yaml:"opportunities,omitempty"`
	Benefits         []string           `json:"benefits,omitempty" yaml:"benefits,omitempty"`
	NextRoundHint    string             `json:"next_round_hint,omitempty" yaml:"next_round_hint,omitempty"`
	CashFlowWarnings []CashFlowWarning  `json:"cash_flow_warnings,omitempty" yaml:"cash_flow_warnings,omitempty"`
}

// EntityPanel is the per-entity state after a turn.
type EntityPanel struct {
	ID             string             `json:"id" yaml:"id"`
	Name           string             `json:"name" yaml:"name"`
	Cash           float64            `json:"cash" yaml:"cash"`
	Attributes     map[string]float64 `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	PassiveIncome  float64            `json:"passive_income,omitempty" yaml:"passive_income,omitempty"`
	PassiveExpense float64            `json:"passive_expense,omitempty" yaml:"passive_expense,omitempty"`
	// Delta holds per-field changes. "cash" is an absolute amount; every
	// other key is expressed in percentage points.
	Delta  map[string]float64 `json:"delta,omitempty" yaml:"delta,omitempty"`
	Broken bool               `json:"broken,omitempty" yaml:"broken,omitempty"`
}

// LeaderboardEntry ranks one entity.
type LeaderboardEntry struct {
	Rank  int     `json:"rank" yaml:"rank"`
	ID    string  `json:"id" yaml:"id"`
	Name  string  `json:"name" yaml:"name"`
	Score float64 `json:"score" yaml:"score"`
}

// Event sentiments.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// TurnEvent is an event raised by the turn.
type TurnEvent struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Sentiment   string `json:"sentiment,omitempty" yaml:"sentiment,omitempty"`
	// Duration is the number of rounds the event keeps applying.
	Duration int      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Targets  []string `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// LongRunning reports whether the event outlives the current round.
func (e TurnEvent) LongRunning() bool {
	return e.Duration > 1
}

// Significant reports whether the event is worth remembering long term.
func (e TurnEvent) Significant() bool {
	return e.LongRunning() || (e.Sentiment != "" && e.Sentiment != SentimentNeutral)
}

// DecisionOption is a suggested action for the next round.
type DecisionOption struct {
	ID          string `json:"id" yaml:"id"`
	EntityID    string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Hexagram is the optional oracle reading of the round.
type Hexagram struct {
	Name           string `json:"name" yaml:"name"`
	Judgement      string `json:"judgement,omitempty" yaml:"judgement,omitempty"`
	Interpretation string `json:"interpretation,omitempty" yaml:"interpretation,omitempty"`
}

// Ledger is the optional bookkeeping block of the round.
type Ledger struct {
	Entries []LedgerEntry `json:"entries" yaml:"entries"`
}

// LedgerEntry is one cash movement.
type LedgerEntry struct {
	EntityID string  `json:"entity_id" yaml:"entity_id"`
	Label    string  `json:"label" yaml:"label"`
	Amount   float64 `json:"amount" yaml:"amount"`
}

// Achievement is unlocked by an entity during the round.
type Achievement struct {
	EntityID    string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CashFlowWarning flags an entity close to insolvency.
type CashFlowWarning struct {
	EntityID     string `json:"entity_id" yaml:"entity_id"`
	RoundsToZero int    `json:"rounds_to_zero" yaml:"rounds_to_zero"`
	Message      string `json:"message,omitempty" yaml:"message,omitempty"`
}
