package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/taleturn/internal/extract"
	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/lorebook"
	"github.com/flemzord/taleturn/internal/memory"
	"github.com/flemzord/taleturn/internal/prompt"
	"github.com/flemzord/taleturn/internal/provider"
)

// TurnOptions carries per-turn overrides.
type TurnOptions struct {
	// Parser routes the parser call to its own service. Nil sends both
	// calls to the primary configuration.
	Parser *provider.AIConfig

	// History overrides the engine's history configuration for this turn.
	History *memory.HistoryConfig

	// OnNarrative is invoked synchronously once the narrative is final,
	// before any parser work begins.
	OnNarrative func(game.NarrativeResult)
}

// Outcome is what a turn produced. Structured is always set once the
// narrative succeeded; its Status tells whether parsing worked.
type Outcome struct {
	Narrative  game.NarrativeResult
	Structured game.StructuredResult
	States     []State
}

// RunTurn resolves one round. A narrative failure returns a *TurnError
// and leaves the sink and history untouched. A parser failure is not an
// error: the returned outcome carries a failed, retryable structured
// result next to the completed narrative.
func (e *Engine) RunTurn(ctx context.Context, req game.InferenceRequest, primary provider.AIConfig, opts TurnOptions) (*Outcome, error) {
	if strings.TrimSpace(req.SessionID) == "" || req.Round < 1 {
		return nil, fmt.Errorf("%w: session %q round %d", ErrInvalidRequest, req.SessionID, req.Round)
	}
	logger := e.logger.With("session_id", req.SessionID, "round", req.Round)

	ctx, span := e.tracer.Start(ctx, "engine.RunTurn", trace.WithAttributes(
		attribute.String("taleturn.session_id", req.SessionID),
		attribute.Int("taleturn.round", req.Round),
	))
	defer span.End()

	routes, err := provider.ResolveRoutes(primary, opts.Parser)
	if err != nil {
		logger.Error("turn rejected: invalid provider configuration", "error", err)
		recordSpanError(span, err)
		e.metrics.turn(OutcomeNarrativeFailed)
		return nil, &TurnError{Stage: StageNarrative, SessionID: req.SessionID, Round: req.Round, Err: err}
	}
	span.SetAttributes(attribute.Bool("taleturn.shared_config", routes.Shared))

	if rec, err := e.sink.Load(ctx, req.SessionID, req.Round); err == nil && rec.NarrativeStatus == game.StatusCompleted {
		logger.Warn("turn rejected: narrative already completed")
		recordSpanError(span, ErrNarrativeFinal)
		return nil, ErrNarrativeFinal
	} else if err != nil && !errors.Is(err, ErrTurnNotFound) {
		logger.Warn("turn sink lookup failed", "error", err)
	}

	states := &stateTrace{onEnter: func(s State) {
		logger.Debug("turn state", "state", string(s))
	}}

	states.enter(StateBuildingNarrativePrompt)
	custom := customLore(req.CustomLore)
	if req.WorldInit != nil && (req.Round == 1 || !e.lore.Initialized(req.SessionID)) {
		n := e.lore.Initialize(req.SessionID, req.WorldInit, custom...)
		logger.Info("lorebook initialized", "entries", n)
	} else {
		for _, entry := range custom {
			e.lore.Add(req.SessionID, entry)
		}
	}
	if roster := req.Roster(); len(roster) > 0 && (req.Round == 1 || !e.rosters.known(req.SessionID)) {
		e.rosters.seed(req.SessionID, req.Round, roster, e.now())
	}
	history := e.history.Retrieve(ctx, req.SessionID, req.Round, opts.History)

	base := prompt.BuildNarrative(req, req.GameRules, "")
	lore := e.lore.Triggered(req.SessionID, base, e.config.LoreMaxTokens)
	narrativePrompt := base
	if lore != "" {
		narrativePrompt = prompt.BuildNarrative(req, req.GameRules, lore)
	}

	states.enter(StateCallingNarrative)
	resp, err := e.call(ctx, provider.Request{
		Role:    provider.RoleNarrative,
		Config:  routes.For(provider.RoleNarrative),
		Prompt:  narrativePrompt,
		History: history,
		Policy:  e.config.Narrative,
		Logger:  logger,
	})
	text := narrativeText(resp.Result)
	if err == nil && text == "" {
		err = ErrNoNarrative
	}
	if err != nil {
		states.enter(StateNarrativeFailed)
		logger.Error("narrative call failed", "error", err)
		recordSpanError(span, err)
		e.metrics.turn(OutcomeNarrativeFailed)
		return &Outcome{States: states.list()}, &TurnError{
			Stage:     StageNarrative,
			SessionID: req.SessionID,
			Round:     req.Round,
			Retryable: !provider.IsConfig(err),
			Err:       err,
		}
	}

	narrative := game.NarrativeResult{
		SessionID:   req.SessionID,
		Round:       req.Round,
		Narrative:   text,
		GeneratedAt: e.now(),
		Status:      game.StatusCompleted,
	}
	if err := e.sink.SaveNarrative(ctx, narrative); err != nil {
		if errors.Is(err, ErrNarrativeFinal) {
			// A concurrent turn for the same round finished first; its
			// narrative is the final one.
			logger.Warn("narrative discarded: round already completed")
			recordSpanError(span, err)
			return &Outcome{States: states.list()}, ErrNarrativeFinal
		}
		logger.Error("narrative not recorded", "error", err)
	}
	states.enter(StateNarrativeReady)
	if opts.OnNarrative != nil {
		opts.OnNarrative(narrative)
	}

	structured, parsed := e.parse(ctx, parseInput{
		sessionID: req.SessionID,
		round:     req.Round,
		narrative: narrative.Narrative,
		roster:    e.rosters.get(req.SessionID, e.now()),
		config:    routes.For(provider.RoleParser),
		logger:    logger,
		states:    states,
	})

	turnHistory := []provider.LLMMessage{
		{Role: provider.MessageRoleUser, Content: narrativePrompt},
		{Role: provider.MessageRoleAssistant, Content: narrative.Narrative},
	}
	if structured.Status == game.StatusCompleted {
		turnHistory = append(turnHistory, parsed.messages...)
	}
	_ = e.history.Append(ctx, req.SessionID, req.Round, turnHistory...)

	if structured.Status == game.StatusCompleted {
		e.foldPanels(req.SessionID, req.Round, structured.Data)
		n := e.lore.ExtractFromResult(req.SessionID, req.Round, structured.Data)
		logger.Debug("lorebook captured turn", "entries", n)
		e.metrics.turn(OutcomeCompleted)
	} else {
		span.SetAttributes(attribute.Bool("taleturn.parser_failed", true))
		e.metrics.turn(OutcomeParserFailed)
	}

	return &Outcome{
		Narrative:  narrative,
		Structured: structured,
		States:     states.list(),
	}, nil
}

// parseInput is everything the parser half needs. Prior history is
// not part of it: the parser sees only the narrative and roster.
type parseInput struct {
	sessionID string
	round     int
	narrative string
	roster    []game.Entity
	config    provider.AIConfig
	logger    *slog.Logger
	states    *stateTrace
}

// parsed carries the history pair of a successful parser call.
type parsed struct {
	messages []provider.LLMMessage
}

// parse runs the parser half of a turn and records its result. It never
// fails the turn: errors become a failed, retryable structured result.
func (e *Engine) parse(ctx context.Context, in parseInput) (game.StructuredResult, parsed) {
	in.states.enter(StateBuildingParserPrompt)
	parserPrompt, err := prompt.BuildParser(prompt.ParserInput{
		Round:     in.round,
		Narrative: in.narrative,
		Roster:    in.roster,
	})

	var resp provider.Response
	if err == nil {
		in.states.enter(StateCallingParser)
		resp, err = e.call(ctx, provider.Request{
			Role:   provider.RoleParser,
			Config: in.config,
			Prompt: parserPrompt,
			Policy: e.config.Parser,
			Logger: in.logger,
		})
	}
	if err == nil && !resp.Result.Structured {
		err = extract.ErrNoStructuredBlock
	}

	result := game.StructuredResult{
		SessionID: in.sessionID,
		Round:     in.round,
	}
	var out parsed
	if err != nil {
		in.states.enter(StateParserFailed)
		in.logger.Warn("parser call failed, narrative kept", "error", err)
		result.Status = game.StatusFailed
		result.Error = err.Error()
		result.CanRetry = true
	} else {
		in.states.enter(StateDone)
		result.Status = game.StatusCompleted
		result.Data = resp.Result.Data
		out.messages = []provider.LLMMessage{
			{Role: provider.MessageRoleUser, Content: parserPrompt},
			{Role: provider.MessageRoleAssistant, Content: parserReply(resp.Result, in.logger)},
		}
	}
	result.GeneratedAt = e.now()

	if err := e.sink.SaveStructured(ctx, result); err != nil {
		in.logger.Error("structured result not recorded", "error", err)
	}
	return result, out
}

// narrativeText is the narrative of a reply: the unwrapped text as the
// service sent it, or the narrative field of a record payload. Blocks
// embedded in the text are part of the story and are never cut out.
func narrativeText(res extract.Result) string {
	if text := strings.TrimSpace(res.Text); text != "" {
		return text
	}
	return strings.TrimSpace(res.Narrative)
}

// parserReply is the assistant side of the parser history pair: the raw
// reply text, or the re-encoded record when the payload had no text.
func parserReply(res extract.Result, logger *slog.Logger) string {
	if res.Text != "" {
		return res.Text
	}
	reply, err := json.Marshal(res.Fields)
	if err != nil {
		logger.Warn("parser reply not encodable for history", "error", err)
		return ""
	}
	return string(reply)
}

// foldPanels updates the session roster from a completed result.
func (e *Engine) foldPanels(sessionID string, round int, data *game.TurnData) {
	if data == nil {
		return
	}
	e.rosters.apply(sessionID, round, data.Panels, e.now())
}

// customLore converts caller-supplied entries to lorebook entries.
func customLore(in []game.LoreEntry) []lorebook.Entry {
	if len(in) == 0 {
		return nil
	}
	out := make([]lorebook.Entry, 0, len(in))
	for _, le := range in {
		if strings.TrimSpace(le.ID) == "" || strings.TrimSpace(le.Content) == "" {
			continue
		}
		out = append(out, lorebook.Entry{
			ID:             le.ID,
			Keywords:       append([]string(nil), le.Keywords...),
			Content:        le.Content,
			Priority:       le.Priority,
			Enabled:        !le.Disabled,
			Category:       lorebook.CategoryCustom,
			MaxActivations: le.MaxActivations,
		})
	}
	return out
}

// call runs one executor call inside a span and records its metrics.
func (e *Engine) call(ctx context.Context, req provider.Request) (provider.Response, error) {
	ctx, span := e.tracer.Start(ctx, "engine."+string(req.Role)+"_call", trace.WithAttributes(
		attribute.String("taleturn.role", string(req.Role)),
		attribute.String("taleturn.provider", req.Config.ProviderOrDefault()),
		attribute.String("taleturn.model", req.Config.Model),
	))
	defer span.End()

	start := time.Now()
	resp, err := e.executor.Call(ctx, req)
	elapsed := time.Since(start)

	attempts := resp.Attempts
	result := "success"
	if err != nil {
		result = "failure"
		var re *provider.RetryError
		if errors.As(err, &re) {
			attempts = re.Attempts
		}
		recordSpanError(span, err)
	}
	span.SetAttributes(attribute.Int("taleturn.attempts", attempts))
	e.metrics.call(string(req.Role), result, attempts, elapsed)
	return resp, err
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
