//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/catalog"
	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("creditgate_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, RunMigrations(ctx, db, nil))
	return db
}

func TestIntegration_ActivateDeductAndExpire(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	store := New(db)
	table := catalog.Static(catalog.Default())
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, db, nil))

	require.NoError(t, store.CreateOrganization(ctx, &orgs.Organization{ID: "org-1", Name: "Acme Clinic"}))

	now := time.Now().UTC().Truncate(time.Microsecond)
	clock := func() time.Time { return now }
	subs := subscription.NewService(store.Subscription(), table,
		subscription.WithClock(clock), subscription.WithMetrics(metrics))
	credits := ledger.NewService(store.Ledger(), table,
		ledger.WithClock(clock), ledger.WithMetrics(metrics))

	admin := auth.WithActor(ctx, auth.Actor{UserID: "admin-1", Role: auth.RolePlatformAdmin})
	payment, err := subs.RecordPayment(admin, subscription.RecordPaymentRequest{
		OrgID:  "org-1",
		Amount: decimal.RequireFromString("99.00"),
	})
	require.NoError(t, err)
	_, err = subs.ConfirmPayment(admin, payment.ID, "")
	require.NoError(t, err)

	_, err = subs.Activate(admin, subscription.ActivateRequest{
		OrgID:     "org-1",
		Plan:      orgs.PlanBasic,
		Cycle:     orgs.CycleMonthly,
		PaymentID: payment.ID,
		Amount:    decimal.RequireFromString("99.00"),
	})
	require.NoError(t, err)

	// A second active period for the same organization violates the partial unique index.
	_, err = db.ExecContext(ctx, `INSERT INTO subscription_periods
		(id, organization_id, plan, billing_cycle, start_date, end_date, status)
		VALUES ('dup', 'org-1', 'basic', 'monthly', NOW(), NOW(), 'active')`)
	require.Error(t, err)

	res, err := credits.Deduct(ctx, "org-1", "user-1", "equipment_diagnosis")
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceOrgPool, res.Source)

	c, err := credits.FinalizeConsumption(ctx, res.ConsumptionID, ledger.ConsumptionFailed, ledger.Telemetry{ErrorMessage: "timeout"})
	require.NoError(t, err)
	assert.Equal(t, ledger.ConsumptionFailed, c.Status)

	_, err = credits.FinalizeConsumption(ctx, res.ConsumptionID, ledger.ConsumptionCompleted, ledger.Telemetry{})
	assert.True(t, apperr.Is(err, apperr.CodeConsumptionAlreadyFinalized))

	l, err := store.GetLedger(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, l.MonthlyIncluded, l.Balance)
	assert.Equal(t, int64(0), l.LifetimeUsed)

	now = now.AddDate(0, 2, 0)
	outcome, err := subs.ExpireActive(auth.WithActor(ctx, auth.System), "org-1", now)
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeTransitioned, outcome)

	org, err := store.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, orgs.StatusGracePeriod, org.Status)

	periods, err := store.ListPeriods(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, subscription.PeriodExpired, periods[0].Status)
}
