package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/audit"
	"github.com/platinummonkey/creditgate/pkg/catalog"
	"github.com/platinummonkey/creditgate/pkg/notify"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/storage"
)

// Service implements the subscription lifecycle
type Service struct {
	store      Store
	catalog    catalog.Source
	dispatcher notify.Dispatcher
	audit      *audit.Recorder
	metrics    *observability.Metrics
	logger     *observability.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures a Service
type Option func(*Service)

// WithDispatcher sets where expiry notifications go
func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

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

// NewService creates a subscription service
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
	if s.dispatcher == nil {
		s.dispatcher = notify.NewLogDispatcher(s.logger)
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

// CheckAccess is the Subscription Guard. For an organization in its grace
// period it returns both the read-only result and a
// SUBSCRIPTION_GRACE_PERIOD error, so callers that tolerate read-only
// access can use AllowReadOnly and carry on.
func (s *Service) CheckAccess(ctx context.Context, orgID string) (*AccessResult, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
	}

	level, err := orgs.EvaluateAccess(org)
	if err != nil {
		if level == orgs.AccessReadOnly {
			return &AccessResult{Organization: org, AccessLevel: level}, err
		}
		return nil, err
	}
	return &AccessResult{Organization: org, AccessLevel: level}, nil
}

// AllowReadOnly reports whether err still permits read-only access
func AllowReadOnly(err error) bool {
	return err == nil || apperr.Is(err, apperr.CodeSubscriptionGracePeriod)
}

// GetPayment returns a payment or PAYMENT_NOT_FOUND
func (s *Service) GetPayment(ctx context.Context, id string) (*Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.CodePaymentNotFound, "paymentId", id)
	}
	return p, nil
}

// ListPeriods returns an organization's period history, newest first
func (s *Service) ListPeriods(ctx context.Context, orgID string) ([]*Period, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, notFound(err, apperr.CodeOrgNotFound, "orgId", orgID)
	}
	return s.store.ListPeriods(ctx, orgID)
}

// ListOrganizationIDs returns the organizations currently in one of statuses
func (s *Service) ListOrganizationIDs(ctx context.Context, statuses ...orgs.Status) ([]string, error) {
	return s.store.ListOrganizationIDsByStatus(ctx, statuses...)
}

func (s *Service) recordTransition(ctx context.Context, eventType audit.EventType, from, to *orgs.Organization, message string) {
	if from.Status != to.Status {
		s.metrics.RecordTransition(string(from.Status), string(to.Status))
	}
	s.audit.Record(ctx, audit.NewEvent(ctx, eventType, to.ID).
		WithMessage(message).
		WithChanges(from.Snapshot(), to.Snapshot()))
}
