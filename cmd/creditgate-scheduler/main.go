package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/creditgate/pkg/app"
	"github.com/platinummonkey/creditgate/pkg/config"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/scheduler"
)

var (
	runOnce = flag.Bool("run-once", false, "Run the selected jobs once and exit (for backfills and manual recovery)")
	jobs    = flag.String("jobs", strings.Join([]string{scheduler.JobDailySweep, scheduler.JobMonthlyReset}, ","),
		"Comma-separated jobs to run with --run-once ("+strings.Join(scheduler.Jobs(), ", ")+")")
	version = "dev"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "creditgate-scheduler: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "creditgate-scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	a, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.WithError(err).Error("Shutdown incomplete")
		}
	}()

	sched := a.Scheduler()

	if *runOnce {
		names := parseJobs(*jobs)
		logger.WithField("jobs", names).Info("Running jobs once")
		if err := sched.RunOnce(ctx, names...); err != nil {
			return err
		}
		logger.Info("Jobs completed successfully")
		return nil
	}

	// Probes and job metrics
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(a.DB, a.Redis, version))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		defer observability.RecoverPanic(logger, "health server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
			stop()
		}
	}()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"daily":   cfg.Scheduler.Jobs.DailySchedule,
		"monthly": cfg.Scheduler.Jobs.MonthlySchedule,
		"archive": a.Archiver != nil,
	}).Info("Scheduler started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for running jobs")
	}
	_ = healthServer.Shutdown(shutdownCtx)

	logger.Info("Scheduler stopped")
	return nil
}

// parseJobs splits the --jobs flag, dropping blanks
func parseJobs(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
