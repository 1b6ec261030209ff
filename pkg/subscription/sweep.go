package subscription

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/audit"
	"github.com/platinummonkey/creditgate/pkg/notify"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/orgs"
)

// ExpiryWarningDays are the days-before-expiry that trigger a warning
var ExpiryWarningDays = []int{30, 15, 7}

// GraceMidpointDays is the days-before-grace-end of the midpoint reminder
const GraceMidpointDays = 4

// ceilDays rounds d up to whole days. Negative fractions round toward zero.
func ceilDays(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(24*time.Hour)))
}

// DueNotification returns the notification an organization is due at now,
// together with the day count it was derived from.
func DueNotification(org *orgs.Organization, now time.Time) (notify.Type, int, bool) {
	switch {
	case org.Status.HasFullAccess() && org.SubscriptionExpiresAt != nil:
		days := ceilDays(org.SubscriptionExpiresAt.Sub(now))
		if days == 0 {
			return notify.TypeGraceStarted, days, true
		}
		for _, d := range ExpiryWarningDays {
			if days == d {
				return notify.ExpiryWarning(d), days, true
			}
		}
	case org.Status == orgs.StatusGracePeriod && org.GracePeriodEndsAt != nil:
		days := ceilDays(org.GracePeriodEndsAt.Sub(now))
		switch {
		case days == GraceMidpointDays:
			return notify.TypeGraceMidpoint, days, true
		case days <= 0:
			return notify.TypeGraceFinal, days, true
		}
	}
	return "", 0, false
}

// ExpireActive moves an active or trial organization whose subscription has
// ended into its grace period, expires its active period and announces the
// grace period. Anything else is skipped.
func (s *Service) ExpireActive(ctx context.Context, orgID string, now time.Time) (outcome TransitionOutcome, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.ExpireActive", attribute.String("org_id", orgID))
	defer func() { observability.EndSpan(span, err) }()

	var before, after *orgs.Organization
	var pending bool
	var days int
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		pending = false
		org, err := tx.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}
		if !org.Status.HasFullAccess() || org.SubscriptionExpiresAt == nil || org.SubscriptionExpiresAt.After(now) {
			outcome = OutcomeSkipped
			return nil
		}

		before = org.Clone()
		graceEnds := org.SubscriptionExpiresAt.Add(GracePeriod)
		org.Status = orgs.StatusGracePeriod
		org.GracePeriodEndsAt = &graceEnds
		org.UpdatedAt = now

		if err := s.closeActivePeriod(ctx, tx, orgID, PeriodExpired, now); err != nil {
			return err
		}

		days = ceilDays(graceEnds.Sub(now))
		pending = claimNotification(org, notify.TypeGraceStarted, now)
		if err := tx.UpdateOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		after = org
		outcome = OutcomeTransitioned
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeTransitioned {
		s.recordTransition(ctx, audit.EventTypeSubscriptionGrace, before, after, "subscription expired, grace period started")
		notified := OutcomeDuplicate
		if pending {
			notified = s.dispatch(ctx, after, notify.TypeGraceStarted, days, now)
		}
		s.metrics.RecordNotification(string(notify.TypeGraceStarted), string(notified))
	}
	return outcome, nil
}

// ExpireGrace moves a grace-period organization whose grace has ended to
// expired and sends the final notice.
func (s *Service) ExpireGrace(ctx context.Context, orgID string, now time.Time) (outcome TransitionOutcome, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.ExpireGrace", attribute.String("org_id", orgID))
	defer func() { observability.EndSpan(span, err) }()

	var before, after *orgs.Organization
	var pending bool
	var days int
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		pending = false
		org, err := tx.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}
		if org.Status != orgs.StatusGracePeriod || org.GracePeriodEndsAt == nil || org.GracePeriodEndsAt.After(now) {
			outcome = OutcomeSkipped
			return nil
		}

		before = org.Clone()
		days = ceilDays(org.GracePeriodEndsAt.Sub(now))
		pending = claimNotification(org, notify.TypeGraceFinal, now)
		org.Status = orgs.StatusExpired
		org.UpdatedAt = now
		if err := tx.UpdateOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		after = org
		outcome = OutcomeTransitioned
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeTransitioned {
		s.recordTransition(ctx, audit.EventTypeSubscriptionExpired, before, after, "grace period ended")
		notified := OutcomeDuplicate
		if pending {
			notified = s.dispatch(ctx, after, notify.TypeGraceFinal, days, now)
		}
		s.metrics.RecordNotification(string(notify.TypeGraceFinal), string(notified))
	}
	return outcome, nil
}

// SendExpiryNotification dispatches the notification the organization is
// due, unless the same type already went out within the dedup window.
//
// The cursor is committed before anything is dispatched, so a notification
// goes out at most once per threshold. Delivery failures are logged and
// reported as OutcomeFailed; they are not retried.
func (s *Service) SendExpiryNotification(ctx context.Context, orgID string, now time.Time) (outcome TransitionOutcome, err error) {
	ctx, span := observability.StartSpan(ctx, "subscription.SendExpiryNotification", attribute.String("org_id", orgID))
	defer func() { observability.EndSpan(span, err) }()

	var typ notify.Type
	var days int
	var snapshot *orgs.Organization
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		typ, snapshot = "", nil
		org, err := tx.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}

		due, d, ok := DueNotification(org, now)
		if !ok {
			outcome = OutcomeSkipped
			return nil
		}
		typ, days = due, d
		if !claimNotification(org, typ, now) {
			outcome = OutcomeDuplicate
			return nil
		}
		if err := tx.UpdateOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to update notification cursor: %w", err)
		}
		snapshot = org
		return nil
	})
	if err != nil {
		if typ != "" {
			s.metrics.RecordNotification(string(typ), string(OutcomeFailed))
		}
		return "", err
	}

	if snapshot != nil {
		outcome = s.dispatch(ctx, snapshot, typ, days, now)
	}
	if typ != "" {
		s.metrics.RecordNotification(string(typ), string(outcome))
	}
	return outcome, nil
}

// claimNotification advances the cursor to typ unless typ already went out
// within the dedup window. It reports whether the caller should send.
func claimNotification(org *orgs.Organization, typ notify.Type, now time.Time) bool {
	if recentlySent(org, typ, now) {
		return false
	}
	markSent(org, typ, now)
	return true
}

// dispatch sends a notification whose cursor is already committed. Failure
// is logged only.
func (s *Service) dispatch(ctx context.Context, org *orgs.Organization, typ notify.Type, days int, now time.Time) TransitionOutcome {
	if err := s.dispatcher.Send(ctx, s.buildNotification(org, typ, days, now)); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"org_id":            org.ID,
			"notification_type": typ,
		}).Warn("failed to dispatch notification")
		return OutcomeFailed
	}
	return OutcomeSent
}

func (s *Service) buildNotification(org *orgs.Organization, typ notify.Type, days int, now time.Time) notify.Notification {
	args := map[string]interface{}{
		"days":         days,
		"organization": org.Name,
	}
	if org.SubscriptionPlan != "" {
		args["plan"] = string(org.SubscriptionPlan)
	}
	if org.SubscriptionExpiresAt != nil {
		args["expires_at"] = org.SubscriptionExpiresAt.Format(time.RFC3339)
	}
	if org.GracePeriodEndsAt != nil {
		args["grace_period_ends_at"] = org.GracePeriodEndsAt.Format(time.RFC3339)
	}
	return notify.Notification{
		Type:           typ,
		OrganizationID: org.ID,
		Args:           args,
		CreatedAt:      now,
	}
}

func recentlySent(org *orgs.Organization, typ notify.Type, now time.Time) bool {
	return org.LastNotificationType == string(typ) &&
		org.LastNotificationSentAt != nil &&
		now.Sub(*org.LastNotificationSentAt) < NotificationDedupWindow
}

func markSent(org *orgs.Organization, typ notify.Type, now time.Time) {
	sent := now
	org.LastNotificationType = string(typ)
	org.LastNotificationSentAt = &sent
}
