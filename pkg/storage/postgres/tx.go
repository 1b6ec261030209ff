package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/storage"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

const (
	orgColumns = `id, name, status, subscription_plan, billing_cycle,
		subscription_expires_at, grace_period_ends_at,
		last_notification_type, last_notification_sent_at,
		created_at, updated_at`

	ledgerColumns = `id, organization_id, balance, bonus_credits,
		monthly_included, monthly_used, monthly_reset_at,
		lifetime_granted, lifetime_used, created_at, updated_at`

	consumptionColumns = `id, organization_id, user_id, feature_id, credits_used,
		source, status, input_tokens, output_tokens, cost_usd, model,
		error_message, duration_ms, created_at, completed_at`

	periodColumns = `id, organization_id, plan, billing_cycle, start_date, end_date,
		amount, payment_id, status, monthly_credit_allowance, created_at, updated_at`

	paymentColumns = `id, organization_id, amount, method, status, period_id,
		reference, created_at, updated_at`
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// pgTx runs queries on a transaction, or on the pool for unlocked reads
type pgTx struct {
	q querier
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanOrganization(row rowScanner) (*orgs.Organization, error) {
	var (
		org                    orgs.Organization
		status, plan, cycle    sql.NullString
		lastType               sql.NullString
		expiresAt, graceEndsAt sql.NullTime
		lastSentAt             sql.NullTime
	)
	err := row.Scan(
		&org.ID, &org.Name, &status, &plan, &cycle,
		&expiresAt, &graceEndsAt,
		&lastType, &lastSentAt,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	org.Status = orgs.NormalizeStatus(status.String)
	org.SubscriptionPlan = orgs.PlanTier(plan.String)
	org.BillingCycle = orgs.BillingCycle(cycle.String)
	org.SubscriptionExpiresAt = timePtr(expiresAt)
	org.GracePeriodEndsAt = timePtr(graceEndsAt)
	org.LastNotificationType = lastType.String
	org.LastNotificationSentAt = timePtr(lastSentAt)
	return &org, nil
}

func (t *pgTx) getOrganization(ctx context.Context, id string, lock bool) (*orgs.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1` + forUpdate(lock)
	org, err := scanOrganization(t.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "failed to get organization: %w")
	}
	return org, nil
}

func (t *pgTx) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	return t.getOrganization(ctx, id, false)
}

func (t *pgTx) GetOrganizationForUpdate(ctx context.Context, id string) (*orgs.Organization, error) {
	return t.getOrganization(ctx, id, true)
}

func (t *pgTx) UpdateOrganization(ctx context.Context, org *orgs.Organization) error {
	query := `
		UPDATE organizations SET
			name = $2, status = $3, subscription_plan = $4, billing_cycle = $5,
			subscription_expires_at = $6, grace_period_ends_at = $7,
			last_notification_type = $8, last_notification_sent_at = $9,
			updated_at = $10
		WHERE id = $1
	`
	res, err := t.q.ExecContext(ctx, query,
		org.ID, org.Name, string(org.Status),
		nullString(string(org.SubscriptionPlan)), nullString(string(org.BillingCycle)),
		org.SubscriptionExpiresAt, org.GracePeriodEndsAt,
		nullString(org.LastNotificationType), org.LastNotificationSentAt,
		org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return expectOneRow(res)
}

func scanLedger(row rowScanner) (*ledger.Ledger, error) {
	var (
		l       ledger.Ledger
		resetAt sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.OrganizationID, &l.Balance, &l.BonusCredits,
		&l.MonthlyIncluded, &l.MonthlyUsed, &resetAt,
		&l.LifetimeGranted, &l.LifetimeUsed, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.MonthlyResetAt = timePtr(resetAt)
	return &l, nil
}

func (t *pgTx) getLedger(ctx context.Context, orgID string, lock bool) (*ledger.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM credit_ledgers WHERE organization_id = $1` + forUpdate(lock)
	l, err := scanLedger(t.q.QueryRowContext(ctx, query, orgID))
	if err != nil {
		return nil, notFoundOr(err, "failed to get credit ledger: %w")
	}
	return l, nil
}

func (t *pgTx) GetLedgerForUpdate(ctx context.Context, orgID string) (*ledger.Ledger, error) {
	return t.getLedger(ctx, orgID, true)
}

func (t *pgTx) InsertLedger(ctx context.Context, l *ledger.Ledger) error {
	query := `INSERT INTO credit_ledgers (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := t.q.ExecContext(ctx, query,
		l.ID, l.OrganizationID, l.Balance, l.BonusCredits,
		l.MonthlyIncluded, l.MonthlyUsed, l.MonthlyResetAt,
		l.LifetimeGranted, l.LifetimeUsed, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit ledger: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateLedger(ctx context.Context, l *ledger.Ledger) error {
	query := `
		UPDATE credit_ledgers SET
			balance = $2, bonus_credits = $3,
			monthly_included = $4, monthly_used = $5, monthly_reset_at = $6,
			lifetime_granted = $7, lifetime_used = $8, updated_at = $9
		WHERE organization_id = $1
	`
	res, err := t.q.ExecContext(ctx, query,
		l.OrganizationID, l.Balance, l.BonusCredits,
		l.MonthlyIncluded, l.MonthlyUsed, l.MonthlyResetAt,
		l.LifetimeGranted, l.LifetimeUsed, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit ledger: %w", err)
	}
	return expectOneRow(res)
}

func scanConsumption(row rowScanner) (*ledger.Consumption, error) {
	var (
		c           ledger.Consumption
		source      string
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.UserID, &c.FeatureID, &c.CreditsUsed,
		&source, &status, &c.InputTokens, &c.OutputTokens, &c.CostUSD, &c.Model,
		&c.ErrorMessage, &c.DurationMS, &c.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Source = ledger.Source(source)
	c.Status = ledger.ConsumptionStatus(status)
	c.CompletedAt = timePtr(completedAt)
	return &c, nil
}

func (t *pgTx) getConsumption(ctx context.Context, id string, lock bool) (*ledger.Consumption, error) {
	query := `SELECT ` + consumptionColumns + ` FROM consumptions WHERE id = $1` + forUpdate(lock)
	c, err := scanConsumption(t.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "failed to get consumption: %w")
	}
	return c, nil
}

func (t *pgTx) InsertConsumption(ctx context.Context, c *ledger.Consumption) error {
	query := `INSERT INTO consumptions (` + consumptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := t.q.ExecContext(ctx, query,
		c.ID, c.OrganizationID, c.UserID, c.FeatureID, c.CreditsUsed,
		string(c.Source), string(c.Status), c.InputTokens, c.OutputTokens, c.CostUSD, c.Model,
		c.ErrorMessage, c.DurationMS, c.CreatedAt, c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert consumption: %w", err)
	}
	return nil
}

func (t *pgTx) GetConsumptionForUpdate(ctx context.Context, id string) (*ledger.Consumption, error) {
	return t.getConsumption(ctx, id, true)
}

func (t *pgTx) UpdateConsumption(ctx context.Context, c *ledger.Consumption) error {
	query := `
		UPDATE consumptions SET
			status = $2, input_tokens = $3, output_tokens = $4, cost_usd = $5,
			model = $6, error_message = $7, duration_ms = $8, completed_at = $9
		WHERE id = $1
	`
	res, err := t.q.ExecContext(ctx, query,
		c.ID, string(c.Status), c.InputTokens, c.OutputTokens, c.CostUSD,
		c.Model, c.ErrorMessage, c.DurationMS, c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update consumption: %w", err)
	}
	return expectOneRow(res)
}

func (t *pgTx) ActivePeriodAllowance(ctx context.Context, orgID string) (int64, bool, error) {
	var allowance int64
	err := t.q.QueryRowContext(ctx,
		`SELECT monthly_credit_allowance FROM subscription_periods WHERE organization_id = $1 AND status = $2`,
		orgID, string(subscription.PeriodActive),
	).Scan(&allowance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get active period allowance: %w", err)
	}
	return allowance, true, nil
}

func scanPeriod(row rowScanner) (*subscription.Period, error) {
	var (
		p         subscription.Period
		plan      string
		cycle     string
		status    string
		paymentID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.OrganizationID, &plan, &cycle, &p.StartDate, &p.EndDate,
		&p.Amount, &paymentID, &status, &p.MonthlyCreditAllowance, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Plan = orgs.PlanTier(plan)
	p.BillingCycle = orgs.BillingCycle(cycle)
	p.Status = subscription.PeriodStatus(status)
	p.PaymentID = paymentID.String
	return &p, nil
}

func (t *pgTx) GetActivePeriodForUpdate(ctx context.Context, orgID string) (*subscription.Period, error) {
	query := `SELECT ` + periodColumns + ` FROM subscription_periods
		WHERE organization_id = $1 AND status = $2 FOR UPDATE`
	p, err := scanPeriod(t.q.QueryRowContext(ctx, query, orgID, string(subscription.PeriodActive)))
	if err != nil {
		return nil, notFoundOr(err, "failed to get active period: %w")
	}
	return p, nil
}

func (t *pgTx) GetLatestExpiredPeriodForUpdate(ctx context.Context, orgID string) (*subscription.Period, error) {
	query := `SELECT ` + periodColumns + ` FROM subscription_periods
		WHERE organization_id = $1 AND status = $2
		ORDER BY end_date DESC
		LIMIT 1 FOR UPDATE`
	p, err := scanPeriod(t.q.QueryRowContext(ctx, query, orgID, string(subscription.PeriodExpired)))
	if err != nil {
		return nil, notFoundOr(err, "failed to get expired period: %w")
	}
	return p, nil
}

func (t *pgTx) InsertPeriod(ctx context.Context, p *subscription.Period) error {
	query := `INSERT INTO subscription_periods (` + periodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := t.q.ExecContext(ctx, query,
		p.ID, p.OrganizationID, string(p.Plan), string(p.BillingCycle), p.StartDate, p.EndDate,
		p.Amount, nullString(p.PaymentID), string(p.Status), p.MonthlyCreditAllowance, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert period: %w", err)
	}
	return nil
}

func (t *pgTx) UpdatePeriod(ctx context.Context, p *subscription.Period) error {
	query := `
		UPDATE subscription_periods SET
			plan = $2, billing_cycle = $3, start_date = $4, end_date = $5,
			amount = $6, payment_id = $7, status = $8,
			monthly_credit_allowance = $9, updated_at = $10
		WHERE id = $1
	`
	res, err := t.q.ExecContext(ctx, query,
		p.ID, string(p.Plan), string(p.BillingCycle), p.StartDate, p.EndDate,
		p.Amount, nullString(p.PaymentID), string(p.Status),
		p.MonthlyCreditAllowance, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	return expectOneRow(res)
}

func scanPayment(row rowScanner) (*subscription.Payment, error) {
	var (
		p        subscription.Payment
		status   string
		periodID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.OrganizationID, &p.Amount, &p.Method, &status, &periodID,
		&p.Reference, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = subscription.PaymentStatus(status)
	p.PeriodID = periodID.String
	return &p, nil
}

func (t *pgTx) getPayment(ctx context.Context, id string, lock bool) (*subscription.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1` + forUpdate(lock)
	p, err := scanPayment(t.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "failed to get payment: %w")
	}
	return p, nil
}

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, id string) (*subscription.Payment, error) {
	return t.getPayment(ctx, id, true)
}

func (t *pgTx) InsertPayment(ctx context.Context, p *subscription.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := t.q.ExecContext(ctx, query,
		p.ID, p.OrganizationID, p.Amount, p.Method, string(p.Status), nullString(p.PeriodID),
		p.Reference, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *subscription.Payment) error {
	query := `
		UPDATE payments SET
			status = $2, period_id = $3, reference = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := t.q.ExecContext(ctx, query,
		p.ID, string(p.Status), nullString(p.PeriodID), p.Reference, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return expectOneRow(res)
}
