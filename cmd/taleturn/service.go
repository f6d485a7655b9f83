package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceStopTimeout = 30 * time.Second

// daemon runs the gateway under the host service manager.
type daemon struct {
	configPath string
	cancel     context.CancelFunc
	srv        *server
}

func (d *daemon) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := startServer(ctx, d.configPath)
	if err != nil {
		cancel()
		return err
	}
	d.cancel = cancel
	d.srv = srv
	return nil
}

func (d *daemon) Stop(_ service.Service) error {
	if d.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), serviceStopTimeout)
	defer cancel()
	err := d.srv.Stop(ctx)
	d.cancel()
	d.srv = nil
	return err
}

func newService(configPath string) (service.Service, error) {
	args := []string{"service", "run"}
	if configPath != "" {
		// The service manager starts us from another working directory.
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, err
		}
		configPath = abs
		args = append(args, "--config", configPath)
	}
	return service.New(&daemon{configPath: configPath}, &service.Config{
		Name:        "taleturn",
		DisplayName: "Taleturn gateway",
		Description: "Turn resolution gateway for AI-narrated games",
		Arguments:   args,
	})
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage taleturn as a system service",
	}

	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := newService(configFlag(cmd))
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run under the service manager (used by the installed unit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(configFlag(cmd))
			if err != nil {
				return err
			}
			return s.Run()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(configFlag(cmd))
			if err != nil {
				return err
			}
			st, err := s.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusName(st))
			return nil
		},
	})
	return cmd
}

func statusName(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
