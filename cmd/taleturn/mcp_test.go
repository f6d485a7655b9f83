package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/provider"
)

type stubRunner struct {
	gotTurn    game.InferenceRequest
	gotParser  *provider.AIConfig
	gotReparse engine.ReparseRequest
	reparseErr error
}

func (s *stubRunner) RunTurn(_ context.Context, req game.InferenceRequest, _ provider.AIConfig, opts engine.TurnOptions) (*engine.Outcome, error) {
	s.gotTurn = req
	s.gotParser = opts.Parser
	if req.SessionID == "broken" {
		return nil, errors.New("narrative unavailable")
	}
	return &engine.Outcome{
		Narrative: game.NarrativeResult{SessionID: req.SessionID, Round: req.Round, Narrative: "The market opens."},
		Structured: game.StructuredResult{
			SessionID: req.SessionID,
			Round:     req.Round,
			Status:    game.StatusCompleted,
		},
	}, nil
}

func (s *stubRunner) Reparse(_ context.Context, req engine.ReparseRequest) (*engine.Outcome, error) {
	s.gotReparse = req
	return &engine.Outcome{
		Structured: game.StructuredResult{
			SessionID: req.SessionID,
			Round:     req.Round,
			Status:    game.StatusFailed,
			CanRetry:  true,
		},
	}, s.reparseErr
}

func (s *stubRunner) EndSession(context.Context, string) (int, error) { return 4, nil }

func (s *stubRunner) Sink() engine.TurnSink { return engine.NewMemorySink() }

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content %T", c)
		return ""
	}
}

func TestMCPTools_RunTurn(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	tools := &mcpTools{runner: runner, routes: provider.Routes{Shared: true}}

	res, err := tools.runTurn(context.Background(), callRequest(map[string]any{
		// Comments and trailing commas are accepted.
		"request": `{"session_id": "s1", "round": 2, /* host note */ "decisions": [],}`,
	}))
	if err != nil {
		t.Fatalf("runTurn: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if runner.gotTurn.SessionID != "s1" || runner.gotTurn.Round != 2 {
		t.Errorf("request = %+v", runner.gotTurn)
	}
	if runner.gotParser != nil {
		t.Error("shared routes should not set a parser override")
	}

	var body struct {
		Narrative  game.NarrativeResult  `json:"narrative"`
		Structured game.StructuredResult `json:"structured"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if body.Narrative.Narrative != "The market opens." {
		t.Errorf("narrative = %q", body.Narrative.Narrative)
	}
	if body.Structured.Status != game.StatusCompleted {
		t.Errorf("status = %q", body.Structured.Status)
	}
}

func TestMCPTools_RunTurnErrors(t *testing.T) {
	t.Parallel()

	tools := &mcpTools{runner: &stubRunner{}}
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing request", map[string]any{}, "request"},
		{"bad json", map[string]any{"request": "{not json"}, "invalid request"},
		{"narrative failure", map[string]any{"request": `{"session_id":"broken","round":1}`}, "narrative unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tools.runTurn(context.Background(), callRequest(tt.args))
			if err != nil {
				t.Fatalf("runTurn: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected a tool error")
			}
			if got := resultText(t, res); !strings.Contains(got, tt.want) {
				t.Errorf("error = %q, want it to mention %q", got, tt.want)
			}
		})
	}
}

func TestMCPTools_Reparse(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{reparseErr: errors.New("parser failed")}
	parser := provider.AIConfig{Endpoint: "http://parser.local", Model: "small"}
	tools := &mcpTools{runner: runner, routes: provider.Routes{Parser: parser}}

	res, err := tools.reparse(context.Background(), callRequest(map[string]any{
		"session_id": "s1",
		"round":      float64(3),
		"roster":     `[{"id": "p1", "name": "Ada", "cash": 100}]`,
	}))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !res.IsError {
		t.Error("a failed parse should be flagged as a tool error")
	}

	got := runner.gotReparse
	if got.SessionID != "s1" || got.Round != 3 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Roster) != 1 || got.Roster[0].Name != "Ada" {
		t.Errorf("roster = %+v", got.Roster)
	}
	if got.Config.Model != "small" {
		t.Errorf("parser config = %+v", got.Config)
	}

	var structured game.StructuredResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &structured); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !structured.CanRetry {
		t.Error("CanRetry = false")
	}
}

func TestMCPTools_EndSession(t *testing.T) {
	t.Parallel()

	tools := &mcpTools{runner: &stubRunner{}}
	res, err := tools.endSession(context.Background(), callRequest(map[string]any{"session_id": "s1"}))
	if err != nil {
		t.Fatalf("endSession: %v", err)
	}
	if got := resultText(t, res); !strings.Contains(got, "4 history messages") {
		t.Errorf("result = %q", got)
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	t.Parallel()

	s := newMCPServer(&mcpTools{runner: &stubRunner{}})
	if s == nil {
		t.Fatal("nil server")
	}
}
