package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/security"
)

// AcceptedResponse acknowledges a background job.
type AcceptedResponse struct {
	SessionID string `json:"session_id"`
	Round     int    `json:"round"`
	Status    string `json:"status"`
}

// ReparseBody is the body of POST .../rounds/{round}/reparse.
type ReparseBody struct {
	// Narrative overrides the recorded narrative when set.
	Narrative string        `json:"narrative,omitempty"`
	Roster    []game.Entity `json:"roster"`
}

// RoundResponse is the body of GET .../rounds/{round}.
type RoundResponse struct {
	*engine.TurnRecord
	Failure *narrativeFailure `json:"narrative_failure,omitempty"`
	Running bool              `json:"running"`
}

// handleTurn accepts an inference request and runs the turn in the
// background.
func (g *Gateway) handleTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := chi.URLParam(r, "session")

		var req game.InferenceRequest
		if err := security.DecodeJSON(r.Body, g.config.MaxBodyBytes, 0, &req); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, security.ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, err.Error())
			return
		}
		if req.SessionID != "" && req.SessionID != session {
			writeError(w, http.StatusBadRequest, "session_id in body does not match the URL")
			return
		}
		req.SessionID = session
		if req.Round < 1 {
			writeError(w, http.StatusBadRequest, "round must be at least 1")
			return
		}
		if !g.allow(w, r, session, req.Round) {
			return
		}

		key := turnKey{session, req.Round}
		if !g.begin(key) {
			writeError(w, http.StatusConflict, "a job for this round is already running")
			return
		}
		go g.runTurn(key, req, r.RemoteAddr)

		writeJSON(w, http.StatusAccepted, AcceptedResponse{SessionID: session, Round: req.Round, Status: "accepted"})
	}
}

func (g *Gateway) runTurn(key turnKey, req game.InferenceRequest, remote string) {
	defer g.end(key)
	logger := g.logger.With("session_id", key.session, "round", key.round)

	ctx, cancel := context.WithTimeout(g.ctx, g.config.TurnTimeout)
	defer cancel()

	routes := g.Routes()
	var parser = &routes.Parser
	if routes.Shared {
		parser = nil
	}
	out, err := g.runner.RunTurn(ctx, req, routes.Narrative, engine.TurnOptions{
		Parser: parser,
		OnNarrative: func(n game.NarrativeResult) {
			g.publish(ctx, n.SessionID, func() (Envelope, error) { return narrativeEnvelope(n) })
		},
	})

	event := security.AuditEvent{Type: security.EventTurn, SessionID: key.session, Round: key.round, RemoteAddr: remote}
	if err != nil {
		event.Outcome = "narrative_failed"
		event.Detail = err.Error()
		g.audit.Log(event)

		if errors.Is(err, engine.ErrNarrativeFinal) {
			logger.Info("turn skipped: narrative already final")
			return
		}
		g.mu.Lock()
		g.failures[key] = narrativeFailure{Error: err.Error(), Retryable: engine.IsRetryable(err), At: time.Now()}
		g.mu.Unlock()
		logger.Warn("turn failed", "error", err, "retryable", engine.IsRetryable(err))
		return
	}

	g.mu.Lock()
	delete(g.failures, key)
	g.mu.Unlock()

	event.Outcome = string(out.Structured.Status)
	g.audit.Log(event)
	g.publish(ctx, key.session, func() (Envelope, error) { return structuredEnvelope(out.Structured) })
}

// handleReparse re-runs the parser half of a recorded round in the
// background.
func (g *Gateway) handleReparse() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := chi.URLParam(r, "session")
		round, err := strconv.Atoi(chi.URLParam(r, "round"))
		if err != nil || round < 1 {
			writeError(w, http.StatusBadRequest, "invalid round")
			return
		}

		var body ReparseBody
		if r.ContentLength != 0 {
			if err := security.DecodeJSON(r.Body, g.config.MaxBodyBytes, 0, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		rec, err := g.runner.Sink().Load(r.Context(), session, round)
		switch {
		case err == nil && rec.StructuredStatus == game.StatusCompleted:
			writeError(w, http.StatusConflict, engine.ErrStructuredFinal.Error())
			return
		case errors.Is(err, engine.ErrTurnNotFound) && body.Narrative == "":
			writeError(w, http.StatusNotFound, engine.ErrNoNarrative.Error())
			return
		case err != nil && !errors.Is(err, engine.ErrTurnNotFound):
			g.logger.Error("turn lookup failed", "session_id", session, "round", round, "error", err)
			writeError(w, http.StatusInternalServerError, "turn lookup failed")
			return
		}

		if !g.allow(w, r, session, round) {
			return
		}
		key := turnKey{session, round}
		if !g.begin(key) {
			writeError(w, http.StatusConflict, "a job for this round is already running")
			return
		}
		go g.runReparse(key, body, r.RemoteAddr)

		writeJSON(w, http.StatusAccepted, AcceptedResponse{SessionID: session, Round: round, Status: "accepted"})
	}
}

func (g *Gateway) runReparse(key turnKey, body ReparseBody, remote string) {
	defer g.end(key)

	ctx, cancel := context.WithTimeout(g.ctx, g.config.TurnTimeout)
	defer cancel()

	out, err := g.runner.Reparse(ctx, engine.ReparseRequest{
		SessionID: key.session,
		Round:     key.round,
		Narrative: body.Narrative,
		Roster:    body.Roster,
		Config:    g.Routes().Parser,
	})

	event := security.AuditEvent{Type: security.EventReparse, SessionID: key.session, Round: key.round, RemoteAddr: remote}
	if err != nil {
		event.Outcome = "failed"
		event.Detail = err.Error()
	} else {
		event.Outcome = string(out.Structured.Status)
	}
	g.audit.Log(event)

	if out == nil {
		g.logger.Warn("reparse rejected", "session_id", key.session, "round", key.round, "error", err)
		return
	}
	g.publish(ctx, key.session, func() (Envelope, error) { return structuredEnvelope(out.Structured) })
}

// handleGetRound returns what is recorded for a round.
func (g *Gateway) handleGetRound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := chi.URLParam(r, "session")
		round, err := strconv.Atoi(chi.URLParam(r, "round"))
		if err != nil || round < 1 {
			writeError(w, http.StatusBadRequest, "invalid round")
			return
		}
		key := turnKey{session, round}

		g.mu.Lock()
		_, running := g.inflight[key]
		failure, failed := g.failures[key]
		g.mu.Unlock()

		resp := RoundResponse{Running: running}
		if failed {
			resp.Failure = &failure
		}

		rec, err := g.runner.Sink().Load(r.Context(), session, round)
		switch {
		case err == nil:
			resp.TurnRecord = &rec
		case errors.Is(err, engine.ErrTurnNotFound):
			if !running && !failed {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
		default:
			writeError(w, http.StatusInternalServerError, "turn lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleEndSession clears history, lorebook and recorded turns.
func (g *Gateway) handleEndSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := chi.URLParam(r, "session")
		removed, err := g.runner.EndSession(r.Context(), session)

		g.mu.Lock()
		for k := range g.failures {
			if k.session == session {
				delete(g.failures, k)
			}
		}
		g.mu.Unlock()
		g.limiter.Forget(session)

		event := security.AuditEvent{Type: security.EventSessionEnd, SessionID: session, RemoteAddr: r.RemoteAddr}
		if err != nil {
			event.Detail = err.Error()
			g.audit.Log(event)
			writeError(w, http.StatusInternalServerError, "session cleanup incomplete")
			return
		}
		g.audit.Log(event)
		writeJSON(w, http.StatusOK, map[string]any{"session_id": session, "history_messages": removed})
	}
}

// allow applies the per-session rate limit.
func (g *Gateway) allow(w http.ResponseWriter, r *http.Request, session string, round int) bool {
	if err := g.limiter.Allow(session); err != nil {
		g.audit.Log(security.AuditEvent{Type: security.EventRateLimit, SessionID: session, Round: round, RemoteAddr: r.RemoteAddr})
		writeError(w, http.StatusTooManyRequests, err.Error())
		return false
	}
	return true
}

func (g *Gateway) publish(ctx context.Context, session string, build func() (Envelope, error)) {
	env, err := build()
	if err != nil {
		g.logger.Error("broadcast payload failed", "session_id", session, "error", err)
		return
	}
	n := g.hub.Publish(ctx, session, env)
	g.logger.Debug("broadcast sent", "session_id", session, "type", string(env.Type), "subscribers", n)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
