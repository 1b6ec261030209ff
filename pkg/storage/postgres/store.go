package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/storage"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

// DefaultMaxAttempts is how many times a transaction is attempted when
// PostgreSQL aborts it with a serialization failure or a deadlock.
const DefaultMaxAttempts = 3

// querier is the subset of *sql.DB and *sql.Tx the queries need
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements the ledger and subscription stores on PostgreSQL
type Store struct {
	db          *sql.DB
	replica     func() *sql.DB
	isolation   sql.IsolationLevel
	maxAttempts int
	logger      *observability.Logger
}

// Option configures a Store
type Option func(*Store)

// WithReplicas sends sweep listing queries to the manager's read replicas.
// Every row they return is re-read under lock before it is changed, so
// replica lag only delays work.
func WithReplicas(cm *ConnectionManager) Option {
	return func(s *Store) {
		s.replica = cm.Replica
	}
}

// WithIsolation overrides the transaction isolation level (default serializable)
func WithIsolation(level sql.IsolationLevel) Option {
	return func(s *Store) {
		s.isolation = level
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLogger sets the logger used for retry warnings
func WithLogger(logger *observability.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.WithField("component", "postgres_store")
		}
	}
}

// New creates a store on db
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		isolation:   sql.LevelSerializable,
		maxAttempts: DefaultMaxAttempts,
		logger:      observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConnectionManager creates a store writing to the primary and
// listing from the replicas
func NewFromConnectionManager(cm *ConnectionManager, opts ...Option) *Store {
	return New(cm.Primary(), append([]Option{WithReplicas(cm)}, opts...)...)
}

// DB returns the primary database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ledger returns the store as a ledger.Store
func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{Store: s}
}

// Subscription returns the store as a subscription.Store
func (s *Store) Subscription() *SubscriptionStore {
	return &SubscriptionStore{Store: s}
}

func (s *Store) reader() querier {
	if s.replica != nil {
		return s.replica()
	}
	return s.db
}

func (s *Store) runInTx(ctx context.Context, fn func(tx *pgTx) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= s.maxAttempts {
			return err
		}
		s.logger.WithError(err).WithField("attempt", attempt).Warn("Transaction aborted by conflict, retrying")
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(tx *pgTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isRetryable reports serialization failures and deadlocks
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// CreateOrganization inserts an organization. Organization management lives
// outside this service; this exists for provisioning and tests.
func (s *Store) CreateOrganization(ctx context.Context, org *orgs.Organization) error {
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	if org.UpdatedAt.IsZero() {
		org.UpdatedAt = now
	}

	query := `
		INSERT INTO organizations (
			id, name, status, subscription_plan, billing_cycle,
			subscription_expires_at, grace_period_ends_at,
			last_notification_type, last_notification_sent_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		org.ID, org.Name, nullString(string(org.Status)),
		nullString(string(org.SubscriptionPlan)), nullString(string(org.BillingCycle)),
		org.SubscriptionExpiresAt, org.GracePeriodEndsAt,
		nullString(org.LastNotificationType), org.LastNotificationSentAt,
		org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization loads an organization without locking it
func (s *Store) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	return (&pgTx{q: s.db}).GetOrganization(ctx, id)
}

// GetLedger loads a ledger without locking it
func (s *Store) GetLedger(ctx context.Context, orgID string) (*ledger.Ledger, error) {
	return (&pgTx{q: s.db}).getLedger(ctx, orgID, false)
}

// GetConsumption loads a consumption record without locking it
func (s *Store) GetConsumption(ctx context.Context, id string) (*ledger.Consumption, error) {
	return (&pgTx{q: s.db}).getConsumption(ctx, id, false)
}

// GetPayment loads a payment without locking it
func (s *Store) GetPayment(ctx context.Context, id string) (*subscription.Payment, error) {
	return (&pgTx{q: s.db}).getPayment(ctx, id, false)
}

// ListPeriods returns an organization's periods, newest start first
func (s *Store) ListPeriods(ctx context.Context, orgID string) ([]*subscription.Period, error) {
	query := `SELECT ` + periodColumns + ` FROM subscription_periods
		WHERE organization_id = $1
		ORDER BY start_date DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	defer rows.Close()

	var periods []*subscription.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	return periods, nil
}

var validStatuses = []string{
	string(orgs.StatusActive),
	string(orgs.StatusTrial),
	string(orgs.StatusGracePeriod),
	string(orgs.StatusExpired),
	string(orgs.StatusSuspended),
}

// ListOrganizationIDsByStatus returns matching organization ids in id order.
// Rows with an empty or unknown status count as active.
func (s *Store) ListOrganizationIDsByStatus(ctx context.Context, statuses ...orgs.Status) ([]string, error) {
	wanted := make([]string, 0, len(statuses))
	includeLegacy := false
	for _, st := range statuses {
		wanted = append(wanted, string(st))
		if st == orgs.DefaultStatus {
			includeLegacy = true
		}
	}

	query := `
		SELECT id FROM organizations
		WHERE status = ANY($1)
		   OR ($2 AND (status IS NULL OR status <> ALL($3)))
		ORDER BY id
	`
	return s.listIDs(ctx, "organizations", query, pq.Array(wanted), includeLegacy, pq.Array(validStatuses))
}

// ListLedgerOrganizationIDs returns the organization id of every ledger
func (s *Store) ListLedgerOrganizationIDs(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, "ledgers", "SELECT organization_id FROM credit_ledgers ORDER BY organization_id")
}

// ListStaleConsumptions returns pending consumptions created before cutoff,
// oldest first. A limit of zero or less means no limit.
func (s *Store) ListStaleConsumptions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	query := `
		SELECT id FROM consumptions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`
	return s.listIDs(ctx, "stale consumptions", query, string(ledger.ConsumptionPending), cutoff, limitArg)
}

func (s *Store) listIDs(ctx context.Context, what, query string, args ...interface{}) ([]string, error) {
	rows, err := s.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	return ids, nil
}

// Close closes the primary database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// LedgerStore adapts Store to ledger.Store
type LedgerStore struct {
	*Store
}

// RunInTx runs fn in one transaction, retrying on serialization failures
func (l *LedgerStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return l.runInTx(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}

// SubscriptionStore adapts Store to subscription.Store
type SubscriptionStore struct {
	*Store
}

// RunInTx runs fn in one transaction, retrying on serialization failures
func (s *SubscriptionStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx subscription.Tx) error) error {
	return s.runInTx(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}

var (
	_ ledger.Store       = (*LedgerStore)(nil)
	_ subscription.Store = (*SubscriptionStore)(nil)
	_ subscription.Tx    = (*pgTx)(nil)
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func notFoundOr(err error, format string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf(format, err)
}
