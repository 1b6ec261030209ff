package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/audit"
	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/catalog"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/storage"
)

// StaleReconciliationMessage is recorded on consumptions failed by the reconciler
const StaleReconciliationMessage = "reconciled: stale pending consumption"

// Service implements the credit ledger operations
type Service struct {
	store   Store
	catalog catalog.Source
	audit   *audit.Recorder
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Service
type Option func(*Service)

// WithAudit sets the audit recorder
func WithAudit(rec *audit.Recorder) Option {
	return func(s *Service) { s.audit = rec }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a ledger service
func NewService(store Store, source catalog.Source, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: source,
		logger:  observability.NewNopLogger(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder(nil, s.logger)
	}
	return s
}

func notFound(err error, code apperr.Code, key, value string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(code).With(key, value)
	}
	return err
}

func requireFullAccess(org *orgs.Organization) error {
	_, err := orgs.EvaluateAccess(org)
	return err
}

// Deduct charges the cost of featureID to the organization and opens a
// pending consumption record, all in one transaction on the locked ledger row.
func (s *Service) Deduct(ctx context.Context, orgID, userID, featureID string) (res *DeductResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.Deduct",
		attribute.String("org_id", orgID),
		attribute.String("feature_id", featureID))
	defer func() { observability.EndSpan(span, err) }()

	feature, err := s.catalog.Current().Features.Lookup(featureID)
	if err != nil {
		s.metrics.RecordRejection(string(apperr.CodeOf(err)))
		return nil, err
	}
	cost := feature.Credits

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		org, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}
		if err := requireFullAccess(org); err != nil {
			return err
		}

		l, err := tx.GetLedgerForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeNoCreditsRecord, "orgId", orgID)
		}

		source, ok := l.SelectSource(cost)
		if !ok {
			return apperr.New(apperr.CodeInsufficientCredits).
				With("available", l.Available()).
				With("poolAvailable", l.Balance).
				With("bonusAvailable", l.BonusCredits).
				With("required", cost)
		}

		now := s.now()
		l.debit(source, cost)
		l.UpdatedAt = now
		if err := tx.UpdateLedger(ctx, l); err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}

		c := &Consumption{
			ID:             s.newID(),
			OrganizationID: orgID,
			UserID:         userID,
			FeatureID:      featureID,
			CreditsUsed:    cost,
			Source:         source,
			Status:         ConsumptionPending,
			CreatedAt:      now,
		}
		if err := tx.InsertConsumption(ctx, c); err != nil {
			return fmt.Errorf("failed to insert consumption: %w", err)
		}

		res = &DeductResult{ConsumptionID: c.ID, CreditsDeducted: cost, Source: source}
		return nil
	})
	if err != nil {
		if code := apperr.CodeOf(err); code != "" {
			s.metrics.RecordRejection(string(code))
		}
		return nil, err
	}

	s.metrics.RecordDeduction(string(res.Source), featureID, res.CreditsDeducted)
	s.logger.WithFields(map[string]interface{}{
		"org_id":         orgID,
		"user_id":        userID,
		"feature_id":     featureID,
		"credits":        res.CreditsDeducted,
		"source":         res.Source,
		"consumption_id": res.ConsumptionID,
	}).Debug("credits deducted")

	return res, nil
}

// FinalizeConsumption moves a pending consumption to completed or failed and
// stores the telemetry. A failed consumption refunds its credits to the
// source they came from, in the same transaction.
func (s *Service) FinalizeConsumption(ctx context.Context, consumptionID string, status ConsumptionStatus, telemetry Telemetry) (c *Consumption, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.FinalizeConsumption",
		attribute.String("consumption_id", consumptionID),
		attribute.String("status", string(status)))
	defer func() { observability.EndSpan(span, err) }()

	if !status.IsTerminal() {
		return nil, apperr.New(apperr.CodeInvalidStatusTransition).
			With("to", string(status))
	}

	var refunded int64
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		c, refunded, err = s.finalizeTx(ctx, tx, consumptionID, status, telemetry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordFinalization(string(status), string(c.Source), refunded)
	return c, nil
}

func (s *Service) finalizeTx(ctx context.Context, tx Tx, consumptionID string, status ConsumptionStatus, telemetry Telemetry) (*Consumption, int64, error) {
	c, err := tx.GetConsumptionForUpdate(ctx, consumptionID)
	if err != nil {
		return nil, 0, notFound(err, apperr.CodeConsumptionNotFound, "consumptionId", consumptionID)
	}
	if c.Status != ConsumptionPending {
		return nil, 0, apperr.New(apperr.CodeConsumptionAlreadyFinalized).
			With("consumptionId", consumptionID).
			With("status", string(c.Status))
	}

	var refunded int64
	if status == ConsumptionFailed {
		l, err := tx.GetLedgerForUpdate(ctx, c.OrganizationID)
		if err != nil {
			return nil, 0, notFound(err, apperr.CodeNoCreditsRecord, "orgId", c.OrganizationID)
		}
		l.refund(c.Source, c.CreditsUsed)
		l.UpdatedAt = s.now()
		if err := tx.UpdateLedger(ctx, l); err != nil {
			return nil, 0, fmt.Errorf("failed to update ledger: %w", err)
		}
		refunded = c.CreditsUsed
	}

	completedAt := s.now()
	c.Status = status
	c.Telemetry = telemetry
	c.CompletedAt = &completedAt
	if err := tx.UpdateConsumption(ctx, c); err != nil {
		return nil, 0, fmt.Errorf("failed to update consumption: %w", err)
	}

	return c, refunded, nil
}

// GrantBonus adds bonus credits to an organization, creating its ledger if
// needed. Platform admin only.
func (s *Service) GrantBonus(ctx context.Context, orgID string, credits int64, reason string) (res *GrantResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.GrantBonus",
		attribute.String("org_id", orgID),
		attribute.Int64("credits", credits))
	defer func() { observability.EndSpan(span, err) }()

	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	if credits <= 0 {
		return nil, apperr.New(apperr.CodeInvalidAmount).With("credits", credits)
	}

	var before, after map[string]interface{}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetOrganization(ctx, orgID); err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}

		now := s.now()
		l, err := tx.GetLedgerForUpdate(ctx, orgID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			l = &Ledger{ID: s.newID(), OrganizationID: orgID, CreatedAt: now}
			before = l.Snapshot()
			l.BonusCredits = credits
			l.LifetimeGranted = credits
			l.UpdatedAt = now
			if err := tx.InsertLedger(ctx, l); err != nil {
				return fmt.Errorf("failed to insert ledger: %w", err)
			}
		case err != nil:
			return err
		default:
			before = l.Snapshot()
			l.BonusCredits += credits
			l.LifetimeGranted += credits
			l.UpdatedAt = now
			if err := tx.UpdateLedger(ctx, l); err != nil {
				return fmt.Errorf("failed to update ledger: %w", err)
			}
		}

		after = l.Snapshot()
		res = &GrantResult{NewBonusBalance: l.BonusCredits}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBonusGrant(credits)
	s.audit.Record(ctx, audit.NewEvent(ctx, audit.EventTypeCreditsBonusGranted, orgID).
		WithResource(audit.ResourceTypeLedger, orgID).
		WithMessage(reason).
		WithMetadata("credits", credits).
		WithChanges(before, after))

	return res, nil
}

// CheckCredits answers whether the organization can pay creditsRequired and
// from which source, without changing anything.
func (s *Service) CheckCredits(ctx context.Context, orgID, userID string, creditsRequired int64) (*CreditCheck, error) {
	if creditsRequired <= 0 {
		return nil, apperr.New(apperr.CodeInvalidAmount).With("credits", creditsRequired)
	}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
	}
	if err := requireFullAccess(org); err != nil {
		return nil, err
	}

	l, err := s.store.GetLedger(ctx, orgID)
	if err != nil {
		return nil, notFound(err, apperr.CodeNoCreditsRecord, "orgId", orgID)
	}

	source, ok := l.SelectSource(creditsRequired)
	if !ok {
		return nil, apperr.New(apperr.CodeInsufficientCredits).
			With("available", l.Available()).
			With("poolAvailable", l.Balance).
			With("bonusAvailable", l.BonusCredits).
			With("required", creditsRequired)
	}

	return &CreditCheck{Source: source, Available: l.Available(), OrgCreditsID: l.ID}, nil
}

// GetLedger returns the organization's ledger or NO_CREDITS_RECORD
func (s *Service) GetLedger(ctx context.Context, orgID string) (*Ledger, error) {
	l, err := s.store.GetLedger(ctx, orgID)
	if err != nil {
		return nil, notFound(err, apperr.CodeNoCreditsRecord, "orgId", orgID)
	}
	return l, nil
}

// GetConsumption returns a consumption record or CONSUMPTION_NOT_FOUND
func (s *Service) GetConsumption(ctx context.Context, id string) (*Consumption, error) {
	c, err := s.store.GetConsumption(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.CodeConsumptionNotFound, "consumptionId", id)
	}
	return c, nil
}

// ResetMonthly refills the org pool of one organization for a new month.
// Organizations that are not active or in trial are skipped. Bonus credits
// are never touched and unused pool credits do not roll over.
func (s *Service) ResetMonthly(ctx context.Context, orgID string, now time.Time) (outcome ResetOutcome, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.ResetMonthly", attribute.String("org_id", orgID))
	defer func() { observability.EndSpan(span, err) }()

	var before, after map[string]interface{}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		org, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
		}
		if !org.Status.HasFullAccess() {
			outcome = ResetSkipped
			return nil
		}

		l, err := tx.GetLedgerForUpdate(ctx, orgID)
		if err != nil {
			return notFound(err, apperr.CodeNoCreditsRecord, "orgId", orgID)
		}

		allowance, ok, err := tx.ActivePeriodAllowance(ctx, orgID)
		if err != nil {
			return fmt.Errorf("failed to load active period: %w", err)
		}
		if ok {
			l.MonthlyIncluded = allowance
		}

		before = l.Snapshot()
		resetAt := FirstOfNextMonth(now)
		l.Balance = l.MonthlyIncluded
		l.MonthlyUsed = 0
		l.MonthlyResetAt = &resetAt
		l.LifetimeGranted += l.MonthlyIncluded
		l.UpdatedAt = now
		if err := tx.UpdateLedger(ctx, l); err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}
		after = l.Snapshot()

		outcome = ResetApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	s.metrics.RecordCreditReset(string(outcome))
	if outcome == ResetApplied {
		s.audit.Record(ctx, audit.NewEvent(ctx, audit.EventTypeCreditsMonthlyReset, orgID).
			WithResource(audit.ResourceTypeLedger, orgID).
			WithChanges(before, after))
	}
	return outcome, nil
}

// ListLedgerOrganizationIDs returns every organization that has a ledger
func (s *Service) ListLedgerOrganizationIDs(ctx context.Context) ([]string, error) {
	return s.store.ListLedgerOrganizationIDs(ctx)
}

// ListStaleConsumptions returns pending consumptions created before cutoff
func (s *Service) ListStaleConsumptions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	return s.store.ListStaleConsumptions(ctx, cutoff, limit)
}

// ReconcileStale fails a consumption that is still pending and was created
// before cutoff, refunding its credits. It reports whether it acted.
func (s *Service) ReconcileStale(ctx context.Context, consumptionID string, cutoff time.Time) (reconciled bool, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.ReconcileStale", attribute.String("consumption_id", consumptionID))
	defer func() { observability.EndSpan(span, err) }()

	var c *Consumption
	var refunded int64
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetConsumptionForUpdate(ctx, consumptionID)
		if err != nil {
			return notFound(err, apperr.CodeConsumptionNotFound, "consumptionId", consumptionID)
		}
		if current.Status != ConsumptionPending || !current.CreatedAt.Before(cutoff) {
			return nil
		}

		c, refunded, err = s.finalizeTx(ctx, tx, consumptionID, ConsumptionFailed, Telemetry{
			ErrorMessage: StaleReconciliationMessage,
		})
		return err
	})
	if err != nil || c == nil {
		return false, err
	}

	s.metrics.RecordFinalization(string(ConsumptionFailed), string(c.Source), refunded)
	s.audit.Record(ctx, audit.NewEvent(ctx, audit.EventTypeConsumptionReconciled, c.OrganizationID).
		WithResource(audit.ResourceTypeConsumption, c.ID).
		WithMessage(StaleReconciliationMessage).
		WithMetadata("credits_refunded", refunded).
		WithMetadata("source", string(c.Source)))
	s.logger.WithFields(map[string]interface{}{
		"org_id":         c.OrganizationID,
		"consumption_id": c.ID,
		"credits":        refunded,
	}).Warn("stale pending consumption reconciled")

	return true, nil
}
