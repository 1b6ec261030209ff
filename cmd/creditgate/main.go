package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/creditgate/pkg/api"
	"github.com/platinummonkey/creditgate/pkg/app"
	"github.com/platinummonkey/creditgate/pkg/config"
	"github.com/platinummonkey/creditgate/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "creditgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "creditgate")

	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	a, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewServer(a.Credits, a.Subs, a.Catalog,
			api.WithLogger(logger),
			api.WithMetrics(metrics),
			api.WithTracing(cfg.Observability.OTelEnabled),
			api.WithMiddleware(a.HTTPMiddleware()...),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(a.DB, a.Redis, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health-server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	// Jobs must stop before the stores they use are closed.
	var stopScheduler func(context.Context) error
	if cfg.Scheduler.Embedded {
		sched := a.Scheduler()
		if err := sched.Start(ctx); err != nil {
			_ = a.Close(ctx)
			return err
		}
		logger.Info("Embedded scheduler started")
		stopScheduler = func(ctx context.Context) error {
			select {
			case <-sched.Stop().Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("scheduler did not stop: %w", ctx.Err())
			}
		}
	}
	shutdown.RegisterShutdownFunc("services", func(ctx context.Context) error {
		var errs []error
		if stopScheduler != nil {
			errs = append(errs, stopScheduler(ctx))
		}
		errs = append(errs, a.Close(ctx))
		return errors.Join(errs...)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			defer observability.RecoverPanic(logger, "http server "+srv.Addr)
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var listenErr error
	go func() {
		if err := <-serveErr; err != nil {
			listenErr = err
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(waitCtx); err != nil {
		return err
	}
	return listenErr
}
