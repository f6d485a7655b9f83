package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/taleturn/internal/config"
	"github.com/flemzord/taleturn/internal/provider"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(), configInitCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := configFlag(cmd)
			if len(args) == 1 {
				explicit = args[0]
			}
			cfg, path, err := loadConfig(explicit)
			if err != nil {
				return err
			}
			routes, err := cfg.Routes()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", path)
			fmt.Fprintf(out, "  narrative: %s %s\n", routes.Narrative.ProviderOrDefault(), routes.Narrative.Endpoint)
			if routes.Shared {
				fmt.Fprintln(out, "  parser:    same as narrative")
			} else {
				fmt.Fprintf(out, "  parser:    %s %s\n", routes.Parser.ProviderOrDefault(), routes.Parser.Endpoint)
			}
			fmt.Fprintf(out, "  storage:   %s\n", cfg.Storage.Driver)
			fmt.Fprintf(out, "  gateway:   %s\n", bindOrDefault(cfg.Gateway.Bind))
			return nil
		},
	}
}

func bindOrDefault(bind string) string {
	if bind == "" {
		return "127.0.0.1:8080 (default)"
	}
	return bind
}

// initAnswers are the choices collected by the config wizard.
type initAnswers struct {
	Provider    string
	Endpoint    string
	Model       string
	KeyEnv      string
	SplitParser bool
	ParserModel string
	Storage     string
	Bind        string
}

func configInitCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ans := initAnswers{
				Provider: provider.ProviderOpenAI,
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o",
				KeyEnv:   "OPENAI_API_KEY",
				Storage:  config.DriverSQLite,
				Bind:     "127.0.0.1:8080",
			}

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Narrative provider").
						Options(
							huh.NewOption("OpenAI-compatible", provider.ProviderOpenAI),
							huh.NewOption("Anthropic", provider.ProviderAnthropic),
							huh.NewOption("Custom endpoint", provider.ProviderCustom),
						).
						Value(&ans.Provider),
					huh.NewInput().Title("Endpoint URL").Value(&ans.Endpoint).Validate(notEmpty),
					huh.NewInput().Title("Model").Value(&ans.Model),
					huh.NewInput().Title("Environment variable holding the API key").Value(&ans.KeyEnv),
				),
				huh.NewGroup(
					huh.NewConfirm().Title("Use a different model for the structured parser?").Value(&ans.SplitParser),
				),
				huh.NewGroup(
					huh.NewInput().Title("Parser model").Value(&ans.ParserModel),
				).WithHideFunc(func() bool { return !ans.SplitParser }),
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Storage").
						Options(
							huh.NewOption("SQLite file", config.DriverSQLite),
							huh.NewOption("In memory", config.DriverMemory),
							huh.NewOption("Redis (history only)", config.DriverRedis),
						).
						Value(&ans.Storage),
					huh.NewInput().Title("Gateway listen address").Value(&ans.Bind).Validate(notEmpty),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			raw, err := renderConfig(ans)
			if err != nil {
				return err
			}
			if _, err := os.Stat(output); err == nil {
				overwrite := false
				if err := huh.NewConfirm().Title(output + " exists. Overwrite?").Value(&overwrite).Run(); err != nil {
					return err
				}
				if !overwrite {
					return errors.New("aborted")
				}
			}
			if err := os.WriteFile(output, raw, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Export %s, then run: taleturn config check %s\n", output, ans.KeyEnv, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", config.FileName, "File to write")
	return cmd
}

func notEmpty(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

// renderConfig turns wizard answers into a YAML configuration.
func renderConfig(ans initAnswers) ([]byte, error) {
	narrative := aiConfigNode(ans.Provider, ans.Endpoint, ans.Model, ans.KeyEnv)
	providers := map[string]any{"narrative": narrative}
	if ans.SplitParser && ans.ParserModel != "" {
		providers["parser"] = aiConfigNode(ans.Provider, ans.Endpoint, ans.ParserModel, ans.KeyEnv)
	}

	storage := map[string]any{"driver": ans.Storage}
	switch ans.Storage {
	case config.DriverSQLite:
		storage["sqlite"] = map[string]any{"path": "taleturn.db"}
	case config.DriverRedis:
		storage["redis"] = map[string]any{"addr": "${REDIS_ADDR:-127.0.0.1:6379}"}
	}

	doc := map[string]any{
		"version":   "1",
		"providers": providers,
		"engine": map[string]any{
			"narrative": map[string]any{"max_attempts": 3, "timeout": "120s"},
			"parser":    map[string]any{"max_attempts": 3, "timeout": "60s"},
		},
		"history": map[string]any{
			"enabled":              true,
			"max_rounds":           10,
			"max_tokens":           6000,
			"summarize_old_rounds": true,
		},
		"storage": storage,
		"gateway": map[string]any{
			"bind": ans.Bind,
			"auth": map[string]any{"bearer_token": "${TALETURN_TOKEN:-}"},
		},
		"log": map[string]any{"level": "info", "format": "text"},
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return raw, nil
}

func aiConfigNode(kind, endpoint, model, keyEnv string) map[string]any {
	node := map[string]any{
		"provider": kind,
		"endpoint": endpoint,
	}
	if model != "" {
		node["model"] = model
	}
	if kind == provider.ProviderAnthropic {
		node["body_template"] = `{"model": {{model}}, "max_tokens": 4096, "messages": {{messages}}}`
	}
	if keyEnv == "" {
		return node
	}
	key := "${" + keyEnv + "}"
	switch kind {
	case provider.ProviderAnthropic:
		node["headers"] = map[string]string{"x-api-key": key, "anthropic-version": "2023-06-01"}
	default:
		node["headers"] = map[string]string{"Authorization": "Bearer " + key}
	}
	return node
}
