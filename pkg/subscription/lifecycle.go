package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/audit"
	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/storage"
)

// Activate starts a paid subscription: a new active period ending one cycle
// from now, the organization set active on the requested plan, and the
// credit ledger initialized to the plan's monthly allowance.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (period *Period, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.Activate",
		attribute.String("org_id", req.OrgID),
		attribute.String("plan", string(req.Plan)),
		attribute.String("cycle", string(req.Cycle)))
	defer func() { observability.EndSpan(span, err) }()

	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	plans := s.catalog.Current().Plans
	plan, err := plans.Plan(req.Plan)
	if err != nil {
		return nil, err
	}
	if _, err := plans.CycleMonths(req.Cycle); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, apperr.New(apperr.CodeInvalidAmount).With("amount", req.Amount.String())
	}

	var before, after *orgs.Organization
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		org, err := tx.GetOrganizationForUpdate(ctx, req.OrgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", req.OrgID)
		}
		payment, err := confirmedPayment(ctx, tx, req.PaymentID, req.OrgID)
		if err != nil {
			return err
		}

		now := s.now()
		end, err := plans.AddCycle(now, req.Cycle)
		if err != nil {
			return err
		}

		if err := s.closeActivePeriod(ctx, tx, req.OrgID, PeriodCancelled, now); err != nil {
			return err
		}

		period = &Period{
			ID:                     s.newID(),
			OrganizationID:         req.OrgID,
			Plan:                   plan.Tier,
			BillingCycle:           req.Cycle,
			StartDate:              now,
			EndDate:                end,
			Amount:                 req.Amount,
			PaymentID:              payment.ID,
			Status:                 PeriodActive,
			MonthlyCreditAllowance: plan.MonthlyCredits,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.InsertPeriod(ctx, period); err != nil {
			return fmt.Errorf("failed to insert period: %w", err)
		}
		if err := s.linkPayment(ctx, tx, payment, period.ID, now); err != nil {
			return err
		}

		before = org.Clone()
		org.Status = orgs.StatusActive
		org.SubscriptionPlan = plan.Tier
		org.BillingCycle = req.Cycle
		org.SubscriptionExpiresAt = &end
		org.GracePeriodEndsAt = nil
		org.UpdatedAt = now
		if err := tx.UpdateOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		after = org

		return s.initLedger(ctx, tx, req.OrgID, plan.MonthlyCredits, now)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, audit.EventTypeSubscriptionActivated, before, after,
		fmt.Sprintf("activated %s plan, %s cycle", period.Plan, period.BillingCycle))
	return period, nil
}

// Extend renews the subscription for another cycle. The new end is counted
// from the later of the current expiry and now, so renewing early never
// loses paid time.
func (s *Service) Extend(ctx context.Context, req ExtendRequest) (period *Period, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.Extend",
		attribute.String("org_id", req.OrgID),
		attribute.String("cycle", string(req.Cycle)))
	defer func() { observability.EndSpan(span, err) }()

	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	plans := s.catalog.Current().Plans
	if _, err := plans.CycleMonths(req.Cycle); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, apperr.New(apperr.CodeInvalidAmount).With("amount", req.Amount.String())
	}

	var before, after *orgs.Organization
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		org, err := tx.GetOrganizationForUpdate(ctx, req.OrgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", req.OrgID)
		}
		payment, err := confirmedPayment(ctx, tx, req.PaymentID, req.OrgID)
		if err != nil {
			return err
		}

		now := s.now()
		previous, err := renewablePeriod(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}

		tier := org.SubscriptionPlan
		if previous != nil {
			tier = previous.Plan
		}
		plan, err := plans.Plan(tier)
		if err != nil {
			return err
		}

		start := now
		if org.SubscriptionExpiresAt != nil && org.SubscriptionExpiresAt.After(now) {
			start = *org.SubscriptionExpiresAt
		}
		end, err := plans.AddCycle(start, req.Cycle)
		if err != nil {
			return err
		}

		if previous != nil {
			previous.Status = PeriodRenewed
			previous.UpdatedAt = now
			if err := tx.UpdatePeriod(ctx, previous); err != nil {
				return fmt.Errorf("failed to update period: %w", err)
			}
		}

		period = &Period{
			ID:                     s.newID(),
			OrganizationID:         req.OrgID,
			Plan:                   plan.Tier,
			BillingCycle:           req.Cycle,
			StartDate:              start,
			EndDate:                end,
			Amount:                 req.Amount,
			PaymentID:              payment.ID,
			Status:                 PeriodActive,
			MonthlyCreditAllowance: plan.MonthlyCredits,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.InsertPeriod(ctx, period); err != nil {
			return fmt.Errorf("failed to insert period: %w", err)
		}
		if err := s.linkPayment(ctx, tx, payment, period.ID, now); err != nil {
			return err
		}

		before = org.Clone()
		org.Status = orgs.StatusActive
		org.SubscriptionPlan = plan.Tier
		org.BillingCycle = req.Cycle
		org.SubscriptionExpiresAt = &end
		org.GracePeriodEndsAt = nil
		org.UpdatedAt = now
		if err := tx.UpdateOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		after = org
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, audit.EventTypeSubscriptionExtended, before, after,
		fmt.Sprintf("extended by %s cycle", period.BillingCycle))
	return period, nil
}

// Suspend blocks the organization regardless of its paid time
func (s *Service) Suspend(ctx context.Context, orgID, reason string) (org *orgs.Organization, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.Suspend", attribute.String("org_id", orgID))
	defer func() { observability.EndSpan(span, err) }()

	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}

	var before *orgs.Organization
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}
		before = current.Clone()
		current.Status = orgs.StatusSuspended
		current.UpdatedAt = s.now()
		if err := tx.UpdateOrganization(ctx, current); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		org = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, audit.EventTypeSubscriptionSuspended, before, org, reason)
	return org, nil
}

// Reactivate lifts a suspension while paid or grace time remains. The
// organization returns to active if its subscription has not expired,
// otherwise to grace_period. A lapsed organization gets SUBSCRIPTION_EXPIRED
// and must be activated again with a new payment.
func (s *Service) Reactivate(ctx context.Context, orgID string) (org *orgs.Organization, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.Reactivate", attribute.String("org_id", orgID))
	defer func() { observability.EndSpan(span, err) }()

	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}

	var before *orgs.Organization
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}

		now := s.now()
		before = current.Clone()
		switch {
		case current.SubscriptionExpiresAt != nil && current.SubscriptionExpiresAt.After(now):
			current.Status = orgs.StatusActive
			current.GracePeriodEndsAt = nil
		case current.GracePeriodEndsAt != nil && current.GracePeriodEndsAt.After(now):
			current.Status = orgs.StatusGracePeriod
		default:
			e := apperr.New(apperr.CodeSubscriptionExpired).With("orgId", orgID)
			if current.SubscriptionExpiresAt != nil {
				e = e.With("subscriptionExpiresAt", *current.SubscriptionExpiresAt)
			}
			return e
		}

		current.UpdatedAt = now
		if err := tx.UpdateOrganization(ctx, current); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		org = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, audit.EventTypeSubscriptionReactivated, before, org, "")
	return org, nil
}

// StartTrial puts an organization without an active paid period on a trial
// of the given plan for days days, with that plan's monthly credits.
func (s *Service) StartTrial(ctx context.Context, orgID string, tier orgs.PlanTier, days int) (org *orgs.Organization, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.StartTrial",
		attribute.String("org_id", orgID),
		attribute.Int("days", days))
	defer func() { observability.EndSpan(span, err) }()

	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, apperr.New(apperr.CodeInvalidAmount).With("days", days)
	}
	plan, err := s.catalog.Current().Plans.Plan(tier)
	if err != nil {
		return nil, err
	}

	var before *orgs.Organization
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}
		if _, err := tx.GetActivePeriodForUpdate(ctx, orgID); err == nil {
			return apperr.New(apperr.CodeInvalidStatusTransition).
				With("from", string(current.Status)).
				With("to", string(orgs.StatusTrial))
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := s.now()
		expires := now.Add(time.Duration(days) * 24 * time.Hour)
		before = current.Clone()
		current.Status = orgs.StatusTrial
		current.SubscriptionPlan = plan.Tier
		current.SubscriptionExpiresAt = &expires
		current.GracePeriodEndsAt = nil
		current.UpdatedAt = now
		if err := tx.UpdateOrganization(ctx, current); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		org = current

		return s.initLedger(ctx, tx, orgID, plan.MonthlyCredits, now)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, audit.EventTypeSubscriptionTrial, before, org,
		fmt.Sprintf("%d day %s trial", days, plan.Tier))
	return org, nil
}

// confirmedPayment loads the payment authorizing a period. A payment owned by
// another organization is reported as not found.
func confirmedPayment(ctx context.Context, tx Tx, paymentID, orgID string) (*Payment, error) {
	payment, err := tx.GetPaymentForUpdate(ctx, paymentID)
	if err != nil {
		return nil, notFound(err, apperr.CodePaymentNotFound, "paymentId", paymentID)
	}
	if payment.OrganizationID != orgID {
		return nil, apperr.New(apperr.CodePaymentNotFound).With("paymentId", paymentID)
	}
	if payment.Status != PaymentConfirmed {
		return nil, apperr.New(apperr.CodePaymentNotConfirmed).
			With("paymentId", paymentID).
			With("status", string(payment.Status))
	}
	if payment.PeriodID != "" {
		return nil, apperr.New(apperr.CodeInvalidStatusTransition).
			With("paymentId", paymentID).
			With("periodId", payment.PeriodID)
	}
	return payment, nil
}

func (s *Service) linkPayment(ctx context.Context, tx Tx, payment *Payment, periodID string, now time.Time) error {
	payment.PeriodID = periodID
	payment.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

// renewablePeriod returns the active period, else the most recent expired
// one, else nil.
func renewablePeriod(ctx context.Context, tx Tx, orgID string) (*Period, error) {
	p, err := tx.GetActivePeriodForUpdate(ctx, orgID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load active period: %w", err)
	}

	p, err = tx.GetLatestExpiredPeriodForUpdate(ctx, orgID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load expired period: %w", err)
	}
	return nil, nil
}

func (s *Service) closeActivePeriod(ctx context.Context, tx Tx, orgID string, status PeriodStatus, now time.Time) error {
	p, err := tx.GetActivePeriodForUpdate(ctx, orgID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load active period: %w", err)
	}
	p.Status = status
	p.UpdatedAt = now
	if err := tx.UpdatePeriod(ctx, p); err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	return nil
}

// initLedger sets the org pool to a fresh month of allowance, creating the
// ledger when the organization has none. Bonus credits are kept.
func (s *Service) initLedger(ctx context.Context, tx Tx, orgID string, allowance int64, now time.Time) error {
	resetAt := ledger.FirstOfNextMonth(now)

	l, err := tx.GetLedgerForUpdate(ctx, orgID)
	if errors.Is(err, storage.ErrNotFound) {
		l = &ledger.Ledger{
			ID:              s.newID(),
			OrganizationID:  orgID,
			Balance:         allowance,
			MonthlyIncluded: allowance,
			MonthlyResetAt:  &resetAt,
			LifetimeGranted: allowance,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertLedger(ctx, l); err != nil {
			return fmt.Errorf("failed to insert ledger: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	l.Balance = allowance
	l.MonthlyIncluded = allowance
	l.MonthlyUsed = 0
	l.MonthlyResetAt = &resetAt
	l.LifetimeGranted += allowance
	l.UpdatedAt = now
	if err := tx.UpdateLedger(ctx, l); err != nil {
		return fmt.Errorf("failed to update ledger: %w", err)
	}
	return nil
}
