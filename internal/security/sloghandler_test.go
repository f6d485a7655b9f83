package security

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactingHandler_MessageAndAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("super-secret-value")
	logger := slog.New(NewRedactingHandler(slog.NewTextHandler(&buf, nil), r))

	logger.Info("key is sk-abcdefghijklmnopqrstuvwxyz", "token", "super-secret-value", "safe", "visible")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuvwxyz") || strings.Contains(out, "super-secret-value") {
		t.Errorf("secret found in log output: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("safe value missing: %s", out)
	}
}

func TestRedactingHandler_WithAttrsGroupsAndErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := &Redactor{}
	r.AddLiteral("persistent-secret")
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), r)).
		With("session_id", "persistent-secret").
		WithGroup("call")

	logger.Warn("attempt failed",
		"error", errors.New("dial with persistent-secret"),
		slog.Group("cfg", "header", "persistent-secret"),
	)

	out := buf.String()
	if strings.Contains(out, "persistent-secret") {
		t.Errorf("secret leaked: %s", out)
	}
	if strings.Count(out, RedactPlaceholder) != 3 {
		t.Errorf("want 3 redactions, got: %s", out)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	level, err := ParseLevel("warn")
	if err != nil {
		t.Fatalf("ParseLevel: %v", err)
	}
	logger, err := NewLogger(&buf, "json", level, nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "key", "sk-abcdefghijklmnopqrstuvwxyz")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record passed a warn-level logger")
	}
	if !strings.Contains(out, `"msg":"shown"`) || strings.Contains(out, "sk-abc") {
		t.Errorf("unexpected output: %s", out)
	}

	level.Set(slog.LevelInfo)
	logger.Info("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("lowering the level did not take effect")
	}

	if _, err := NewLogger(&buf, "xml", nil, nil); err == nil {
		t.Error("unknown format accepted")
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("unknown level accepted")
	}
}
