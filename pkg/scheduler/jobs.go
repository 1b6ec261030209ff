package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

// Daily sweep phases, in execution order
const (
	PhaseExpireActive  = "expire_active"
	PhaseExpireGrace   = "expire_grace"
	PhaseNotifications = "notifications"
	PhaseStaleCleanup  = "stale_consumptions"
	PhaseMonthlyReset  = "monthly_reset"
)

// PhaseReport counts what one phase did. Changed means a transition,
// a sent notification, a reconciled consumption or an applied reset.
type PhaseReport struct {
	Phase     string `json:"phase"`
	Processed int    `json:"processed"`
	Changed   int    `json:"changed"`
	Failed    int    `json:"failed"`
}

// SweepReport is the outcome of one daily sweep
type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Phases    []PhaseReport `json:"phases"`
}

// Failed returns the number of items that failed across phases
func (r *SweepReport) Failed() int {
	total := 0
	for _, p := range r.Phases {
		total += p.Failed
	}
	return total
}

// RunDailySweep runs the expiry, notification and stale-consumption phases
// in order. Each organization is handled in its own transaction; a failure
// for one is logged and counted and does not stop the others.
func (s *Scheduler) RunDailySweep(ctx context.Context) (report *SweepReport, err error) {
	ctx, span := observability.StartSpan(ctx, "scheduler.DailySweep")
	defer func() { observability.EndSpan(span, err) }()

	now := s.now().UTC()
	report = &SweepReport{StartedAt: now}

	phases := []struct {
		name string
		list func(ctx context.Context) ([]string, error)
		run  func(ctx context.Context, id string) (bool, error)
	}{
		{
			name: PhaseExpireActive,
			list: func(ctx context.Context) ([]string, error) {
				return s.subs.ListOrganizationIDs(ctx, orgs.StatusActive, orgs.StatusTrial)
			},
			run: func(ctx context.Context, id string) (bool, error) {
				outcome, err := s.subs.ExpireActive(ctx, id, now)
				return outcome == subscription.OutcomeTransitioned, err
			},
		},
		{
			name: PhaseExpireGrace,
			list: func(ctx context.Context) ([]string, error) {
				return s.subs.ListOrganizationIDs(ctx, orgs.StatusGracePeriod)
			},
			run: func(ctx context.Context, id string) (bool, error) {
				outcome, err := s.subs.ExpireGrace(ctx, id, now)
				return outcome == subscription.OutcomeTransitioned, err
			},
		},
		{
			name: PhaseNotifications,
			list: func(ctx context.Context) ([]string, error) {
				return s.subs.ListOrganizationIDs(ctx, orgs.StatusActive, orgs.StatusTrial, orgs.StatusGracePeriod)
			},
			run: func(ctx context.Context, id string) (bool, error) {
				outcome, err := s.subs.SendExpiryNotification(ctx, id, now)
				return outcome == subscription.OutcomeSent, err
			},
		},
		{
			name: PhaseStaleCleanup,
			list: func(ctx context.Context) ([]string, error) {
				return s.credits.ListStaleConsumptions(ctx, now.Add(-s.config.StaleAfter), s.config.StaleBatchSize)
			},
			run: func(ctx context.Context, id string) (bool, error) {
				return s.credits.ReconcileStale(ctx, id, now.Add(-s.config.StaleAfter))
			},
		},
	}

	for _, phase := range phases {
		ids, err := phase.list(ctx)
		if err != nil {
			return report, fmt.Errorf("failed to list %s candidates: %w", phase.name, err)
		}
		pr, err := s.fanOut(ctx, phase.name, ids, phase.run)
		report.Phases = append(report.Phases, pr)
		if err != nil {
			return report, err
		}
	}

	if failed := report.Failed(); failed > 0 {
		return report, fmt.Errorf("daily sweep finished with %d failures", failed)
	}
	return report, nil
}

// RunMonthlyReset refills the pool of every ledger for the current month
func (s *Scheduler) RunMonthlyReset(ctx context.Context) (report PhaseReport, err error) {
	ctx, span := observability.StartSpan(ctx, "scheduler.MonthlyReset")
	defer func() { observability.EndSpan(span, err) }()

	now := s.now().UTC()
	ids, err := s.credits.ListLedgerOrganizationIDs(ctx)
	if err != nil {
		return PhaseReport{Phase: PhaseMonthlyReset}, fmt.Errorf("failed to list ledgers: %w", err)
	}

	report, err = s.fanOut(ctx, PhaseMonthlyReset, ids, func(ctx context.Context, id string) (bool, error) {
		outcome, err := s.credits.ResetMonthly(ctx, id, now)
		return outcome == ledger.ResetApplied, err
	})
	if err != nil {
		return report, err
	}
	if report.Failed > 0 {
		return report, fmt.Errorf("monthly reset finished with %d failures", report.Failed)
	}
	return report, nil
}

// RunAuditArchive exports the previous calendar month of audit events
func (s *Scheduler) RunAuditArchive(ctx context.Context) error {
	if s.archiver == nil {
		return errors.New("audit archive is not configured")
	}

	now := s.now().UTC()
	previous := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	key, count, err := s.archiver.ArchiveMonth(ctx, previous)
	if err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"key":    key,
		"events": count,
		"month":  previous.Format("2006-01"),
	}).Info("Audit month archived")
	return nil
}

// fanOut runs fn for every id with bounded parallelism. Per-item errors
// are counted, not returned; only cancellation of ctx is returned.
func (s *Scheduler) fanOut(ctx context.Context, phase string, ids []string, fn func(ctx context.Context, id string) (bool, error)) (PhaseReport, error) {
	report := PhaseReport{Phase: phase}
	log := s.logger.WithField("phase", phase)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.config.Concurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = observability.PanicError(r)
					log.WithError(err).WithField("id", id).Error("Panic in sweep item")
					mu.Lock()
					report.Processed++
					report.Failed++
					mu.Unlock()
				}
			}()

			changed, err := fn(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			switch {
			case err != nil:
				report.Failed++
				log.WithError(err).WithField("id", id).Warn("Sweep item failed")
			case changed:
				report.Changed++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(map[string]interface{}{
		"processed": report.Processed,
		"changed":   report.Changed,
		"failed":    report.Failed,
	}).Info("Phase completed")

	return report, ctx.Err()
}
