package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flemzord/taleturn/internal/config"
	ctxengine "github.com/flemzord/taleturn/internal/context"
	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/lorebook"
	"github.com/flemzord/taleturn/internal/memory"
	"github.com/flemzord/taleturn/internal/provider"
	"github.com/flemzord/taleturn/internal/security"
	"github.com/flemzord/taleturn/modules/store/redis"
	"github.com/flemzord/taleturn/modules/store/sqlite"
)

// app is the wired process: configuration, logger, engine and the
// resources to release on exit.
type app struct {
	cfg      *config.Config
	path     string
	logger   *slog.Logger
	level    *slog.LevelVar
	redactor *security.Redactor
	registry *prometheus.Registry
	metrics  *engine.Metrics
	engine   *engine.Engine
	routes   provider.Routes

	closers []func(context.Context) error
}

// loadConfig discovers, loads and validates the configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.Discover(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newApp wires every component the configuration describes. logOut
// receives the process log.
func newApp(ctx context.Context, explicit string, logOut io.Writer) (*app, error) {
	cfg, path, err := loadConfig(explicit)
	if err != nil {
		return nil, err
	}
	routes, err := cfg.Routes()
	if err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	redactor.AddHeaders(routes.Narrative.Headers)
	redactor.AddHeaders(routes.Parser.Headers)
	redactor.AddLiteral(cfg.Gateway.Auth.BearerToken)
	redactor.AddLiteral(cfg.Gateway.Auth.BasicPass)
	redactor.AddLiteral(cfg.Storage.Redis.Password)

	level, err := security.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := security.NewLogger(logOut, cfg.Log.Format, level, redactor)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		path:     path,
		logger:   logger,
		level:    level,
		redactor: redactor,
		routes:   routes,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = engine.NewMetrics(a.registry)

	tp, err := a.tracerProvider(ctx)
	if err != nil {
		return nil, err
	}

	history, sink, err := a.stores(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	estimator := ctxengine.NewScriptEstimator(cfg.Estimator.DenseCharsPerToken)
	lore := lorebook.New(
		lorebook.WithLogger(logger),
		lorebook.WithEstimator(estimator),
		lorebook.WithTriggerHook(a.metrics.LoreTriggered),
	)
	executor := provider.NewExecutor(provider.NewHTTPCaller(nil),
		provider.WithLogger(logger),
		provider.WithBackoff(cfg.Engine.Backoff),
	)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(a.metrics),
		engine.WithTracerProvider(tp),
	}
	if sink != nil {
		opts = append(opts, engine.WithSink(sink))
	}
	a.engine = engine.New(executor,
		memory.NewHistoryManager(history, cfg.History, memory.WithLogger(logger), memory.WithEstimator(estimator)),
		lore,
		cfg.EngineSettings(),
		opts...,
	)

	logger.Debug("taleturn wired",
		"config", path,
		"storage", cfg.Storage.Driver,
		"split_routing", !routes.Shared,
		"tracing", cfg.Tracing.Enabled(),
	)
	return a, nil
}

// stores opens the configured history store and, for sqlite, the turn
// sink. A nil sink keeps the engine's in-memory default.
func (a *app) stores(ctx context.Context) (memory.HistoryStore, engine.TurnSink, error) {
	switch a.cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, sqlite.Config{Path: a.cfg.Storage.SQLite.Path})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, s, nil
	case config.DriverRedis:
		rc := a.cfg.Storage.Redis
		s, err := redis.Open(ctx, redis.Config{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, TTL: rc.TTL})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil, nil
	default:
		return memory.NewInMemoryHistoryStore(), nil, nil
	}
}

// tracerProvider sets up OTLP export when tracing is enabled.
func (a *app) tracerProvider(ctx context.Context) (trace.TracerProvider, error) {
	tc := a.cfg.Tracing
	if !tc.Enabled() {
		return noop.NewTracerProvider(), nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(tc.Endpoint)}
	if tc.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", tc.ServiceName))),
	)
	otel.SetTracerProvider(tp)
	a.closers = append(a.closers, tp.Shutdown)
	a.logger.Info("trace export enabled", "endpoint", tc.Endpoint)
	return tp, nil
}

// Close releases stores and flushes traces.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openAuditLog opens the gateway audit file, or returns nil when none is
// configured.
func (a *app) openAuditLog() (*security.AuditLogger, error) {
	path := a.cfg.Gateway.AuditLog
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return f.Close() })
	return security.NewAuditLogger(security.AuditLoggerConfig{Writer: f, Redactor: a.redactor}), nil
}
