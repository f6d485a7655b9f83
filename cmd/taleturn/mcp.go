package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/gateway"
	"github.com/flemzord/taleturn/internal/provider"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve run_turn, reparse and end_session as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(ctx, configFlag(cmd), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			s := newMCPServer(&mcpTools{runner: a.engine, routes: a.routes})
			return mcpserver.ServeStdio(s)
		},
	}
}

// mcpTools adapts the engine to MCP tool handlers.
type mcpTools struct {
	runner gateway.Runner
	routes provider.Routes
}

func newMCPServer(t *mcpTools) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("taleturn", version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("run_turn",
		mcp.WithDescription("Resolve one game round: generate the narrative, then extract the structured result."),
		mcp.WithString("request", mcp.Required(), mcp.Description("Inference request as JSON: session_id, round, decisions, world_init, active_events, game_rules")),
	), t.runTurn)

	s.AddTool(mcp.NewTool("reparse",
		mcp.WithDescription("Re-run the structured parser for a round whose narrative is already recorded."),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithNumber("round", mcp.Required()),
		mcp.WithString("roster", mcp.Description("Roster as a JSON array of entities; defaults to the session's latest roster")),
		mcp.WithString("narrative", mcp.Description("Narrative to parse instead of the recorded one")),
	), t.reparse)

	s.AddTool(mcp.NewTool("end_session",
		mcp.WithDescription("Forget the history, lorebook and recorded turns of a session."),
		mcp.WithString("session_id", mcp.Required()),
	), t.endSession)

	return s
}

func (t *mcpTools) runTurn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("request")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var in game.InferenceRequest
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &in); err != nil {
		return mcp.NewToolResultError("invalid request: " + err.Error()), nil
	}

	parser := &t.routes.Parser
	if t.routes.Shared {
		parser = nil
	}
	out, err := t.runner.RunTurn(ctx, in, t.routes.Narrative, engine.TurnOptions{Parser: parser})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"narrative":  out.Narrative,
		"structured": out.Structured,
	})
}

func (t *mcpTools) reparse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	round, err := req.RequireInt("round")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var roster []game.Entity
	if raw := strings.TrimSpace(req.GetString("roster", "")); raw != "" {
		if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &roster); err != nil {
			return mcp.NewToolResultError("invalid roster: " + err.Error()), nil
		}
	}

	out, err := t.runner.Reparse(ctx, engine.ReparseRequest{
		SessionID: session,
		Round:     round,
		Narrative: req.GetString("narrative", ""),
		Roster:    roster,
		Config:    t.routes.Parser,
	})
	if out == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, jerr := jsonResult(out.Structured)
	if jerr != nil {
		return nil, jerr
	}
	// A failed parse still reports the retryable structured result.
	res.IsError = err != nil
	return res, nil
}

func (t *mcpTools) endSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := t.runner.EndSession(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("session %s ended, %d history messages removed", session, n)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
