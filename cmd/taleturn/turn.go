package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/game"
)

func turnCmd() *cobra.Command {
	var (
		requestPath string
		session     string
		round       int
	)
	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Run one turn and print the narrative and structured result",
		Long: "Run one turn against the configured providers. The narrative is printed\n" +
			"as soon as it is final, followed by the structured result as JSON.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req game.InferenceRequest
			if err := readJSONC(cmd.InOrStdin(), requestPath, &req); err != nil {
				return err
			}
			if session != "" {
				req.SessionID = session
			}
			if round > 0 {
				req.Round = round
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, configFlag(cmd), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			out := cmd.OutOrStdout()
			parser := &a.routes.Parser
			if a.routes.Shared {
				parser = nil
			}
			res, err := a.engine.RunTurn(ctx, req, a.routes.Narrative, engine.TurnOptions{
				Parser: parser,
				OnNarrative: func(n game.NarrativeResult) {
					fmt.Fprintln(out, n.Narrative)
					fmt.Fprintln(out)
				},
			})
			if err != nil {
				return err
			}
			return printStructured(out, res.Structured)
		},
	}
	cmd.Flags().StringVarP(&requestPath, "request", "r", "-", "Inference request JSON file (- for stdin)")
	cmd.Flags().StringVar(&session, "session", "", "Override the request session id")
	cmd.Flags().IntVar(&round, "round", 0, "Override the request round")
	return cmd
}

func reparseCmd() *cobra.Command {
	var (
		session    string
		round      int
		rosterPath string
		narrative  string
	)
	cmd := &cobra.Command{
		Use:   "reparse",
		Short: "Re-run the parser half of a recorded round",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if session == "" || round < 1 {
				return errors.New("--session and --round are required")
			}
			var roster []game.Entity
			if rosterPath != "" {
				if err := readJSONC(cmd.InOrStdin(), rosterPath, &roster); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, configFlag(cmd), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			res, err := a.engine.Reparse(ctx, engine.ReparseRequest{
				SessionID: session,
				Round:     round,
				Narrative: narrative,
				Roster:    roster,
				Config:    a.routes.Parser,
			})
			if res != nil {
				if perr := printStructured(cmd.OutOrStdout(), res.Structured); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id")
	cmd.Flags().IntVar(&round, "round", 0, "Round number")
	cmd.Flags().StringVar(&rosterPath, "roster", "", "Roster JSON file (array of entities)")
	cmd.Flags().StringVar(&narrative, "narrative", "", "Narrative to parse instead of the recorded one")
	return cmd
}

// readJSONC decodes a JSON file that may carry comments and trailing
// commas. "-" reads stdin.
func readJSONC(stdin io.Reader, path string, v any) error {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(raw), v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func printStructured(w io.Writer, res game.StructuredResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
