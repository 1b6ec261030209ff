// Package scheduler runs the time-driven billing jobs.
//
// # Jobs
//
// daily_sweep (default 00:00 UTC) runs four phases in order:
//
//  1. expire_active: active and trial organizations past their expiry enter
//     a seven day grace period
//  2. expire_grace: grace periods that have ended become expired
//  3. notifications: expiry warnings and grace reminders, at most one per
//     type per organization per day
//  4. stale_consumptions: pending consumptions older than StaleAfter are
//     failed and refunded
//
// monthly_credit_reset (00:00 UTC on the 1st) refills the org pool of every
// active or trial ledger. audit_archive (00:30 UTC on the 1st) uploads the
// previous month of audit events when an Archiver is configured.
//
// # Locking
//
// Each job runs under a named lock so that several replicas can share one
// schedule. Use RedisLocker when more than one instance runs the scheduler:
//
//	s := scheduler.New(scheduler.DefaultConfig(), credits, subs,
//		scheduler.WithLocker(scheduler.NewRedisLocker(redisClient)),
//		scheduler.WithMetrics(metrics),
//		scheduler.WithLogger(logger))
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	defer func() { <-s.Stop().Done() }()
//
// Per-organization work fans out with bounded parallelism (Config.Concurrency).
// A failure for one organization is logged and counted and the phase goes on.
package scheduler
