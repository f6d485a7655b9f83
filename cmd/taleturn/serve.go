package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/taleturn/internal/config"
	"github.com/flemzord/taleturn/internal/cron"
	"github.com/flemzord/taleturn/internal/gateway"
	"github.com/flemzord/taleturn/internal/reload"
	"github.com/flemzord/taleturn/internal/security"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := startServer(ctx, configFlag(cmd))
			if err != nil {
				return err
			}
			<-ctx.Done()
			return srv.Stop(context.Background())
		},
	}
}

// server is a running gateway with its housekeeping jobs.
type server struct {
	app       *app
	gateway   *gateway.Gateway
	scheduler *cron.Scheduler
	watcher   *reload.Watcher
	cancel    context.CancelFunc
}

// startServer wires the app and starts the gateway and the scheduler.
func startServer(ctx context.Context, configPath string) (*server, error) {
	a, err := newApp(ctx, configPath, os.Stderr)
	if err != nil {
		return nil, err
	}

	audit, err := a.openAuditLog()
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	gw := gateway.New(a.cfg.Gateway, a.engine, a.routes,
		gateway.WithLogger(a.logger),
		gateway.WithGatherer(a.registry),
		gateway.WithAuditLogger(audit),
	)

	sched := cron.NewScheduler(a.logger)
	jobs := []cron.Job{
		&cron.LoreSweepJob{
			Lore:         a.engine,
			MaxIdle:      a.cfg.Lorebook.IdleTTL,
			Logger:       a.logger,
			ScheduleExpr: a.cfg.Lorebook.SweepSchedule,
		},
		&cron.RateLimitPruneJob{Limiter: gw.Limiter(), Logger: a.logger},
	}
	for _, j := range jobs {
		if err := sched.RegisterJob(j); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	if err := sched.Start(); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := gw.Start(); err != nil {
		_ = sched.Stop(ctx)
		_ = a.Close(ctx)
		return nil, err
	}
	srv := &server{app: a, gateway: gw, scheduler: sched}
	srv.watchConfig()
	a.logger.Info("taleturn serving", "config", a.path, "version", version)
	return srv, nil
}

// watchConfig reloads the log level and provider routes when the config
// file changes or the process receives SIGHUP.
func (s *server) watchConfig() {
	a := s.app
	h := reload.NewHandler(a.path, a.cfg, []reload.Applier{
		reload.ApplierFunc(func(_ context.Context, cfg *config.Config) error {
			lvl, err := security.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			a.level.Set(lvl.Level())
			return nil
		}),
		reload.ApplierFunc(func(_ context.Context, cfg *config.Config) error {
			routes, err := cfg.Routes()
			if err != nil {
				return err
			}
			a.redactor.AddHeaders(routes.Narrative.Headers)
			a.redactor.AddHeaders(routes.Parser.Headers)
			s.gateway.SetRoutes(routes)
			return nil
		}),
	}, reload.WithLogger(a.logger), reload.WithRegisterer(a.registry))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.watcher = reload.NewWatcher(reload.WatcherConfig{Path: a.path})
	s.watcher.Start(ctx)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		h.Run(ctx, s.watcher, hup)
	}()
}

// Stop drains the gateway, stops the jobs and releases resources.
func (s *server) Stop(ctx context.Context) error {
	s.cancel()
	s.watcher.Stop()
	err := s.gateway.Stop(ctx)
	_ = s.scheduler.Stop(ctx)
	if cerr := s.app.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
