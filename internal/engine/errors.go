package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for turn orchestration.
var (
	// ErrInvalidRequest indicates a request without session or round.
	ErrInvalidRequest = errors.New("engine: invalid inference request")

	// ErrNarrativeFinal indicates the round already has a completed
	// narrative, which is immutable.
	ErrNarrativeFinal = errors.New("engine: narrative already completed for this round")

	// ErrStructuredFinal indicates the round already has a completed
	// structured result.
	ErrStructuredFinal = errors.New("engine: structured result already completed for this round")

	// ErrNoNarrative indicates there is no narrative to parse.
	ErrNoNarrative = errors.New("engine: no narrative available")

	// ErrTurnNotFound indicates the sink has no record for the round.
	ErrTurnNotFound = errors.New("engine: turn not found")
)

// Stage names the half of a turn an error belongs to.
type Stage string

// Turn stages.
const (
	StageNarrative Stage = "narrative"
	StageParser    Stage = "parser"
)

// TurnError is returned when a stage of a turn fails. Retryable tells
// the caller whether offering a retry to a human makes sense.
type TurnError struct {
	Stage     Stage
	SessionID string
	Round     int
	Retryable bool
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("engine: %s stage failed (session %s, round %d): %v", e.Stage, e.SessionID, e.Round, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a retryable *TurnError.
func IsRetryable(err error) bool {
	var te *TurnError
	return errors.As(err, &te) && te.Retryable
}
