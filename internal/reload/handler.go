package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/taleturn/internal/config"
	"github.com/flemzord/taleturn/internal/provider"
)

// Applier takes the live-reloadable part of a validated configuration.
type Applier interface {
	Apply(ctx context.Context, cfg *config.Config) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, cfg *config.Config) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context, cfg *config.Config) error {
	return f(ctx, cfg)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithRegisterer registers the reload counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Handler) { h.reg = reg }
}

// Handler reloads the configuration file and applies it. Reloads are
// serialized; a config that fails to load or validate is never applied.
type Handler struct {
	path     string
	appliers []Applier
	logger   *slog.Logger
	reg      prometheus.Registerer
	reloads  *prometheus.CounterVec

	mu      sync.Mutex
	current *config.Config
}

// NewHandler creates a handler for the file at path. current is the
// configuration the process started with.
func NewHandler(path string, current *config.Config, appliers []Applier, opts ...Option) *Handler {
	h := &Handler{
		path:     path,
		current:  current,
		appliers: appliers,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = provider.NopLogger()
	}
	h.reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taleturn",
		Name:      "config_reloads_total",
		Help:      "Configuration reload attempts by result.",
	}, []string{"result"})
	if h.reg != nil {
		h.reg.MustRegister(h.reloads)
	}
	return h
}

// Current returns the last configuration that was applied.
func (h *Handler) Current() *config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Reload loads and validates the file, then runs every applier. Applier
// errors are joined; the new config becomes current only when all of
// them succeed.
func (h *Handler) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, err := config.Load(h.path)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		h.reloads.WithLabelValues("invalid").Inc()
		return fmt.Errorf("reload: %w", err)
	}

	for _, field := range restartOnly(h.current, cfg) {
		h.logger.Warn("config change needs a restart to take effect", "field", field)
	}

	var errs []error
	for _, a := range h.appliers {
		if err := a.Apply(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.reloads.WithLabelValues("failed").Inc()
		return fmt.Errorf("reload: %w", err)
	}

	h.current = cfg
	h.reloads.WithLabelValues("applied").Inc()
	h.logger.Info("configuration reloaded", "path", h.path)
	return nil
}

// Run reloads on every watcher event and every signal until ctx is done.
// Either source may be nil.
func (h *Handler) Run(ctx context.Context, w *Watcher, signals <-chan os.Signal) {
	var events <-chan Event
	if w != nil {
		events = w.Events()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
		case sig := <-signals:
			h.logger.Info("reload requested", "signal", sig.String())
		}
		if err := h.Reload(ctx); err != nil {
			h.logger.Error("configuration reload failed", "error", err)
		}
	}
}

// restartOnly lists settings that differ between old and next but are
// only read at startup.
func restartOnly(old, next *config.Config) []string {
	if old == nil {
		return nil
	}
	var fields []string
	if old.Storage != next.Storage {
		fields = append(fields, "storage")
	}
	if old.Gateway.Bind != next.Gateway.Bind {
		fields = append(fields, "gateway.bind")
	}
	if old.Gateway.Auth != next.Gateway.Auth {
		fields = append(fields, "gateway.auth")
	}
	if old.Tracing != next.Tracing {
		fields = append(fields, "tracing")
	}
	if old.Log.Format != next.Log.Format {
		fields = append(fields, "log.format")
	}
	return fields
}
