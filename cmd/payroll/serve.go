package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
)

// serveCmd starts the HTTP server with graceful shutdown.
//
// On SIGINT/SIGTERM:
//  1. Stop the KPI scheduler, waiting for a running recompute
//  2. Stop accepting new connections
//  3. Wait for active requests to complete (30s timeout)
//  4. Close the database
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, serve)
		},
	}
	flags := cmd.Flags()
	flags.String(config.KeyAddr, ":8080", "HTTP listen address")
	flags.String(config.KeyLogFormat, "text", "log format: text or json")
	flags.String(config.KeyKpiSchedule, "", "KPI recompute cron spec with seconds, empty disables")
	flags.StringSlice(config.KeyCORSOrigins, nil, "allowed CORS origins")
	flags.Int(config.KeyOverdueDays, 0, "overdue threshold in days, overrides the YAML value; 0 makes any delay overdue")
	for _, key := range []string{config.KeyAddr, config.KeyLogFormat, config.KeyKpiSchedule, config.KeyCORSOrigins, config.KeyOverdueDays} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}
	return cmd
}

func serve(ctx context.Context, a *app) error {
	scheduler := api.NewScheduler(a.handler, a.cfg.KpiSchedule, a.log)
	a.handler.Scheduler = scheduler
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      api.NewRouter(a.handler, a.cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info("server stopped")
	return nil
}
