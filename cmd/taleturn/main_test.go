package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "taleturn dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	root := rootCmd()
	for _, name := range []string{"serve", "turn", "reparse", "config", "mcp", "service"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
