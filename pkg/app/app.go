package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/creditgate/pkg/async"
	"github.com/platinummonkey/creditgate/pkg/audit"
	"github.com/platinummonkey/creditgate/pkg/catalog"
	"github.com/platinummonkey/creditgate/pkg/config"
	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/middleware"
	"github.com/platinummonkey/creditgate/pkg/notify"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/scheduler"
	"github.com/platinummonkey/creditgate/pkg/storage"
	"github.com/platinummonkey/creditgate/pkg/storage/memory"
	"github.com/platinummonkey/creditgate/pkg/storage/postgres"
	"github.com/platinummonkey/creditgate/pkg/subscription"
	"github.com/platinummonkey/creditgate/pkg/webhooks"
)

// replicaCheckInterval is how often unhealthy read replicas are dropped
const replicaCheckInterval = 30 * time.Second

// App holds the wired services and the resources behind them
type App struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics

	DB      *sql.DB // nil with memory storage
	Redis   *redis.Client
	Catalog catalog.Source

	Credits  *ledger.Service
	Subs     *subscription.Service
	Archiver *audit.Archiver // nil unless an archive bucket is configured

	tasks    *async.Tasks
	auditLog audit.Logger
	watcher  *catalog.Watcher
	closers  []func() error
	bg       context.Context
	stop     context.CancelFunc
}

// Build connects storage, Redis and the catalog and wires the services.
// On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (_ *App, err error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	bgCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		tasks:   async.NewTasks(logger),
		bg:      bgCtx,
		stop:    stop,
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err := a.openCatalog(); err != nil {
		return nil, err
	}

	if cfg.Storage.RedisURL != "" {
		a.Redis, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Redis.Close)
	}

	var (
		ledgerStore ledger.Store
		subsStore   subscription.Store
		dbLogger    *audit.DBLogger
	)
	switch cfg.Storage.Type {
	case "postgres":
		cm, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.closers = append(a.closers, cm.Close)
		a.DB = cm.Primary()

		if err := postgres.RunMigrations(ctx, a.DB, logger); err != nil {
			return nil, err
		}
		cm.StartHealthCheckRoutine(bgCtx, replicaCheckInterval)

		store := postgres.NewFromConnectionManager(cm, postgres.WithLogger(logger))
		ledgerStore, subsStore = store.Ledger(), store.Subscription()

		dbLogger, err = audit.NewDBLogger(ctx, a.DB)
		if err != nil {
			return nil, err
		}
		a.auditLog = audit.NewMultiLogger(dbLogger, audit.NewLogLogger(logger))
	case "memory":
		logger.Warn("Using in-memory storage; state is lost on restart")
		store := memory.New()
		ledgerStore, subsStore = store.Ledger(), store.Subscription()
		a.auditLog = audit.NewLogLogger(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}

	recorder := audit.NewRecorder(a.auditLog, logger).Async(a.tasks)

	a.Credits = ledger.NewService(ledgerStore, a.Catalog,
		ledger.WithAudit(recorder),
		ledger.WithMetrics(metrics),
		ledger.WithLogger(logger),
	)
	a.Subs = subscription.NewService(subsStore, a.Catalog,
		subscription.WithDispatcher(a.dispatcher()),
		subscription.WithAudit(recorder),
		subscription.WithMetrics(metrics),
		subscription.WithLogger(logger),
	)

	if cfg.Archive.Enabled() {
		client, err := audit.NewS3Client(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		a.Archiver = audit.NewArchiver(dbLogger, client, cfg.Archive, logger)
	}

	return a, nil
}

func (a *App) openCatalog() error {
	path := a.Config.Catalog.Path
	if path == "" {
		a.Catalog = catalog.Static(catalog.Default())
		return nil
	}
	if !a.Config.Catalog.Watch {
		c, err := catalog.LoadFile(path)
		if err != nil {
			return err
		}
		a.Catalog = catalog.Static(c)
		return nil
	}

	w, err := catalog.NewWatcher(path, a.Logger)
	if err != nil {
		return err
	}
	w.OnReload(func(c *catalog.Catalog) {
		a.Logger.WithFields(map[string]interface{}{
			"path":     path,
			"features": c.Features.Len(),
		}).Info("Catalog reloaded")
	})
	if err := w.Start(); err != nil {
		return err
	}
	a.watcher = w
	a.Catalog = w
	return nil
}

// dispatcher logs every notification and also queues it on the Redis
// outbox when Redis is available.
func (a *App) dispatcher() notify.Dispatcher {
	var outbox notify.Dispatcher
	if a.Redis != nil {
		outbox = notify.NewRedisOutbox(a.Redis, a.Config.Notify.OutboxKey)
	}
	var hooks notify.Dispatcher
	if eps := webhooks.ParseEndpoints(a.Config.Notify.WebhookURLs, a.Config.Notify.WebhookSecret); len(eps) > 0 {
		hooks = webhooks.NewDispatcher(webhooks.Config{
			Endpoints: eps,
			Timeout:   a.Config.Notify.WebhookTimeout,
		}, a.Logger)
	}
	return notify.NewMultiDispatcher(notify.NewLogDispatcher(a.Logger), outbox, hooks)
}

// HTTPMiddleware returns the rate limit and idempotency middleware the
// server config enables. The limiter is shared through Redis when it is
// configured.
func (a *App) HTTPMiddleware() []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	srv := a.Config.Server

	if srv.RateLimitPerMinute > 0 {
		rl := middleware.RateLimitConfig{
			RequestsPerWindow: srv.RateLimitPerMinute,
			WindowDuration:    time.Minute,
			BurstSize:         srv.RateLimitBurst,
		}
		var limiter middleware.Limiter
		if a.Redis != nil {
			limiter = middleware.NewDistributedRateLimiter(a.Redis, rl, "")
		} else {
			local := middleware.NewRateLimiter(rl)
			local.StartCleanup(a.bg)
			limiter = local
		}
		mws = append(mws, middleware.RateLimit(limiter, a.Logger))
	}

	if srv.IdempotencyTTL > 0 {
		mws = append(mws, middleware.NewIdempotencyCache(srv.IdempotencyCacheSize, srv.IdempotencyTTL).Middleware)
	}
	return mws
}

// Scheduler builds the background job runner. Jobs are locked through
// Redis when it is configured so only one instance runs each job.
func (a *App) Scheduler() *scheduler.Scheduler {
	opts := []scheduler.Option{
		scheduler.WithMetrics(a.Metrics),
		scheduler.WithLogger(a.Logger),
	}
	if a.Redis != nil {
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(a.Redis)))
	}
	if a.Archiver != nil {
		opts = append(opts, scheduler.WithArchiver(a.Archiver))
	}
	return scheduler.New(a.Config.Scheduler.Jobs, a.Credits, a.Subs, opts...)
}

// Close drains pending audit writes and releases every resource in reverse
// order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.tasks.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pending audit writes: %w", err))
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
