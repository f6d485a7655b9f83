// Package gateway exposes the turn engine over HTTP. Turns and reparses
// run in the background; their results reach clients through the
// per-session websocket broadcast and the round lookup endpoint.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/provider"
	"github.com/flemzord/taleturn/internal/security"
)

// Runner is the part of the engine the gateway drives.
type Runner interface {
	RunTurn(ctx context.Context, req game.InferenceRequest, primary provider.AIConfig, opts engine.TurnOptions) (*engine.Outcome, error)
	Reparse(ctx context.Context, req engine.ReparseRequest) (*engine.Outcome, error)
	EndSession(ctx context.Context, sessionID string) (int, error)
	Sink() engine.TurnSink
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithGatherer exposes the given registry on GET /metrics.
func WithGatherer(gr prometheus.Gatherer) Option {
	return func(g *Gateway) { g.gatherer = gr }
}

// WithAuditLogger records auth, rate-limit and turn events.
func WithAuditLogger(a *security.AuditLogger) Option {
	return func(g *Gateway) { g.audit = a }
}

type turnKey struct {
	session string
	round   int
}

// narrativeFailure remembers why a round has no narrative.
type narrativeFailure struct {
	Error     string    `json:"error"`
	Retryable bool      `json:"can_retry"`
	At        time.Time `json:"failed_at"`
}

// Gateway is the HTTP front of the engine.
type Gateway struct {
	config   Config
	runner   Runner
	routes   atomic.Pointer[provider.Routes]
	hub      *Hub
	logger   *slog.Logger
	audit    *security.AuditLogger
	limiter  *security.KeyedLimiter
	gatherer prometheus.Gatherer

	server    *http.Server
	startedAt time.Time

	// ctx bounds background turns; cancel fires when shutdown gives up
	// waiting for them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[turnKey]struct{}
	failures map[turnKey]narrativeFailure
}

// New creates a Gateway that sends turns to runner along routes.
func New(cfg Config, runner Runner, routes provider.Routes, opts ...Option) *Gateway {
	cfg.defaults()
	g := &Gateway{
		config:   cfg,
		runner:   runner,
		limiter:  security.NewKeyedLimiter(cfg.TurnsPerMinute, time.Minute),
		inflight: make(map[turnKey]struct{}),
		failures: make(map[turnKey]narrativeFailure),
	}
	g.routes.Store(&routes)
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = provider.NopLogger()
	}
	if g.gatherer == nil {
		g.gatherer = prometheus.DefaultGatherer
	}
	g.hub = NewHub(g.logger, cfg.OriginPatterns, cfg.PingInterval)
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.startedAt = time.Now()
	return g
}

// Hub returns the broadcast hub.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Limiter returns the per-session turn rate limiter.
func (g *Gateway) Limiter() *security.KeyedLimiter {
	return g.limiter
}

// Routes returns the provider routing used for new turns.
func (g *Gateway) Routes() provider.Routes {
	return *g.routes.Load()
}

// SetRoutes swaps the provider routing. Turns already running keep the
// routing they started with.
func (g *Gateway) SetRoutes(r provider.Routes) {
	g.routes.Store(&r)
}

// Handler returns the HTTP handler with every route wired.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Start validates the bind address and serves in the background.
func (g *Gateway) Start() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway API has no authentication configured", "addr", g.config.Bind)
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.Handler(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waits for background turns within the
// shutdown timeout, then cancels the ones still running.
func (g *Gateway) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	var err error
	if g.server != nil {
		err = g.server.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		g.logger.Warn("cancelling turns still running at shutdown")
		g.cancel()
		<-done
	}
	g.cancel()
	g.hub.Close()
	return err
}

// Wait blocks until every background turn has finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// begin reserves a round for a background job. It reports false when
// the round is already being worked on.
func (g *Gateway) begin(key turnKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return false
	}
	g.inflight[key] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) end(key turnKey) {
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) inflightCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
