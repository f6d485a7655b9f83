package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/provider"
)

// ReparseRequest re-runs the parser half of a recorded round.
type ReparseRequest struct {
	SessionID string
	Round     int

	// Narrative is the text to parse. Empty means the narrative recorded
	// in the sink for the round.
	Narrative string

	// Roster is the entity roster the parser must account for. Empty
	// means the latest roster the engine knows for the session.
	Roster []game.Entity

	// Config is the parser's service configuration.
	Config provider.AIConfig
}

// Reparse runs only the parser states for a round whose narrative is
// final. No narrative call is made. A failed parse is returned as a
// retryable *TurnError alongside the outcome.
func (e *Engine) Reparse(ctx context.Context, req ReparseRequest) (*Outcome, error) {
	if strings.TrimSpace(req.SessionID) == "" || req.Round < 1 {
		return nil, fmt.Errorf("%w: session %q round %d", ErrInvalidRequest, req.SessionID, req.Round)
	}
	logger := e.logger.With("session_id", req.SessionID, "round", req.Round)

	ctx, span := e.tracer.Start(ctx, "engine.Reparse", trace.WithAttributes(
		attribute.String("taleturn.session_id", req.SessionID),
		attribute.Int("taleturn.round", req.Round),
	))
	defer span.End()

	if err := req.Config.Validate(); err != nil {
		logger.Error("reparse rejected: invalid parser configuration", "error", err)
		recordSpanError(span, err)
		return nil, &TurnError{Stage: StageParser, SessionID: req.SessionID, Round: req.Round, Err: err}
	}

	var narrative game.NarrativeResult
	rec, err := e.sink.Load(ctx, req.SessionID, req.Round)
	switch {
	case err == nil:
		if rec.StructuredStatus == game.StatusCompleted {
			logger.Warn("reparse rejected: structured result already completed")
			return nil, ErrStructuredFinal
		}
		narrative = game.NarrativeResult{
			SessionID:   rec.SessionID,
			Round:       rec.Round,
			Narrative:   rec.Narrative,
			GeneratedAt: rec.NarrativeAt,
			Status:      rec.NarrativeStatus,
		}
	case !errors.Is(err, ErrTurnNotFound):
		logger.Warn("turn sink lookup failed", "error", err)
	}
	if text := strings.TrimSpace(req.Narrative); text != "" {
		narrative.SessionID = req.SessionID
		narrative.Round = req.Round
		narrative.Narrative = text
	}
	if strings.TrimSpace(narrative.Narrative) == "" {
		logger.Warn("reparse rejected: no narrative to parse")
		recordSpanError(span, ErrNoNarrative)
		return nil, ErrNoNarrative
	}

	roster := req.Roster
	if len(roster) == 0 {
		roster = e.rosters.get(req.SessionID, e.now())
	}

	states := &stateTrace{onEnter: func(s State) {
		logger.Debug("reparse state", "state", string(s))
	}}
	structured, parsed := e.parse(ctx, parseInput{
		sessionID: req.SessionID,
		round:     req.Round,
		narrative: narrative.Narrative,
		roster:    roster,
		config:    req.Config,
		logger:    logger,
		states:    states,
	})
	out := &Outcome{Narrative: narrative, Structured: structured, States: states.list()}

	if structured.Status != game.StatusCompleted {
		e.metrics.turn(OutcomeParserFailed)
		return out, &TurnError{
			Stage:     StageParser,
			SessionID: req.SessionID,
			Round:     req.Round,
			Retryable: true,
			Err:       errors.New(structured.Error),
		}
	}

	_ = e.history.Append(ctx, req.SessionID, req.Round, parsed.messages...)
	e.foldPanels(req.SessionID, req.Round, structured.Data)
	n := e.lore.ExtractFromResult(req.SessionID, req.Round, structured.Data)
	logger.Info("reparse completed", "lore_entries", n)
	e.metrics.turn(OutcomeCompleted)
	return out, nil
}

// EndSession clears everything kept for a session: history, lorebook,
// roster and recorded turns. It returns the number of history messages
// removed.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (int, error) {
	logger := e.logger.With("session_id", sessionID)
	e.lore.Clear(sessionID)
	e.rosters.clear(sessionID)

	var errs []error
	removed, err := e.history.Clear(ctx, sessionID)
	if err != nil {
		errs = append(errs, fmt.Errorf("clear history: %w", err))
	}
	if _, err := e.sink.DeleteSession(ctx, sessionID); err != nil {
		errs = append(errs, fmt.Errorf("delete turns: %w", err))
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.Error("session cleanup incomplete", "error", err)
		return removed, err
	}
	logger.Info("session ended", "history_messages", removed)
	return removed, nil
}
