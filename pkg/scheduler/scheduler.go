package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

// Job names, also used as lock names and metric labels
const (
	JobDailySweep   = "daily_sweep"
	JobMonthlyReset = "monthly_credit_reset"
	JobAuditArchive = "audit_archive"
)

// Jobs lists every job name Run accepts
func Jobs() []string {
	return []string{JobDailySweep, JobMonthlyReset, JobAuditArchive}
}

// ErrJobLocked is returned when another instance holds the job lock
var ErrJobLocked = errors.New("job is running on another instance")

// Config holds cron schedules (UTC, standard five-field syntax) and sweep tuning
type Config struct {
	DailySchedule   string
	MonthlySchedule string
	ArchiveSchedule string
	Concurrency     int
	StaleAfter      time.Duration
	StaleBatchSize  int
	LockTTL         time.Duration
}

// DefaultConfig returns the production schedule
func DefaultConfig() Config {
	return Config{
		DailySchedule:   "0 0 * * *",
		MonthlySchedule: "0 0 1 * *",
		ArchiveSchedule: "30 0 1 * *",
		Concurrency:     8,
		StaleAfter:      15 * time.Minute,
		StaleBatchSize:  500,
		LockTTL:         time.Hour,
	}
}

// Archiver exports one month of audit events
type Archiver interface {
	ArchiveMonth(ctx context.Context, month time.Time) (key string, count int, err error)
}

// Scheduler runs the billing jobs on a cron schedule
type Scheduler struct {
	config   Config
	credits  *ledger.Service
	subs     *subscription.Service
	archiver Archiver
	locker   Locker
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
	cron     *cron.Cron
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLocker sets the job lock; the default only guards within this process
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithArchiver enables the monthly audit archive job
func WithArchiver(a Archiver) Option {
	return func(s *Scheduler) { s.archiver = a }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. Zero config fields fall back to DefaultConfig.
func New(config Config, credits *ledger.Service, subs *subscription.Service, opts ...Option) *Scheduler {
	defaults := DefaultConfig()
	if config.DailySchedule == "" {
		config.DailySchedule = defaults.DailySchedule
	}
	if config.MonthlySchedule == "" {
		config.MonthlySchedule = defaults.MonthlySchedule
	}
	if config.ArchiveSchedule == "" {
		config.ArchiveSchedule = defaults.ArchiveSchedule
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.StaleBatchSize <= 0 {
		config.StaleBatchSize = defaults.StaleBatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}

	s := &Scheduler{
		config:  config,
		credits: credits,
		subs:    subs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	s.logger = s.logger.WithField("component", "scheduler")
	return s
}

type scheduledJob struct {
	name     string
	schedule string
}

// Start registers the jobs and starts the cron loop. Jobs stop at ctx
// cancellation or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	jobs := []scheduledJob{
		{JobDailySweep, s.config.DailySchedule},
		{JobMonthlyReset, s.config.MonthlySchedule},
	}
	if s.archiver != nil {
		jobs = append(jobs, scheduledJob{JobAuditArchive, s.config.ArchiveSchedule})
	}

	for _, job := range jobs {
		name := job.name
		if _, err := c.AddFunc(job.schedule, func() {
			defer observability.RecoverPanic(s.logger, name)
			if err := s.Run(ctx, name); err != nil && !errors.Is(err, ErrJobLocked) {
				s.logger.WithError(err).WithField("job", name).Error("Scheduled job failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", name, job.schedule, err)
		}
		s.logger.WithFields(map[string]interface{}{
			"job":      name,
			"schedule": job.schedule,
		}).Info("Job scheduled")
	}

	s.cron = c
	c.Start()
	return nil
}

// Stop stops the cron loop. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Run executes one job by name under its lock, as the system actor
func (s *Scheduler) Run(ctx context.Context, name string) error {
	var fn func(ctx context.Context) error
	switch name {
	case JobDailySweep:
		fn = func(ctx context.Context) error {
			_, err := s.RunDailySweep(ctx)
			return err
		}
	case JobMonthlyReset:
		fn = func(ctx context.Context) error {
			_, err := s.RunMonthlyReset(ctx)
			return err
		}
	case JobAuditArchive:
		fn = s.RunAuditArchive
	default:
		return fmt.Errorf("unknown job %q", name)
	}
	return s.runLocked(ctx, name, fn)
}

// RunOnce executes the named jobs in order, stopping at the first failure
func (s *Scheduler) RunOnce(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := s.Run(ctx, name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *Scheduler) runLocked(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx = auth.WithActor(ctx, auth.System)
	log := s.logger.WithField("job", name)

	release, ok, err := s.locker.Acquire(ctx, name, s.config.LockTTL)
	if err != nil {
		s.metrics.RecordJob(name, 0, err)
		return err
	}
	if !ok {
		log.Info("Job lock held elsewhere, skipping")
		return ErrJobLocked
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			log.WithError(err).Warn("Failed to release job lock")
		}
	}()

	start := time.Now()
	log.Info("Job started")
	err = fn(ctx)
	duration := time.Since(start)
	s.metrics.RecordJob(name, duration, err)

	if err != nil {
		log.WithError(err).WithField("duration_ms", duration.Milliseconds()).Error("Job failed")
		return err
	}
	log.WithField("duration_ms", duration.Milliseconds()).Info("Job completed")
	return nil
}
