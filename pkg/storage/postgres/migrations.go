package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/creditgate/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the billing schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					status VARCHAR(20),
					subscription_plan VARCHAR(50),
					billing_cycle VARCHAR(20),
					subscription_expires_at TIMESTAMP WITH TIME ZONE,
					grace_period_ends_at TIMESTAMP WITH TIME ZONE,
					last_notification_type VARCHAR(50),
					last_notification_sent_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_organizations_status ON organizations(status);
			`,
		},
		{
			Version:     2,
			Description: "Create credit_ledgers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS credit_ledgers (
					id VARCHAR(64) PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL UNIQUE REFERENCES organizations(id),
					balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
					bonus_credits BIGINT NOT NULL DEFAULT 0 CHECK (bonus_credits >= 0),
					monthly_included BIGINT NOT NULL DEFAULT 0,
					monthly_used BIGINT NOT NULL DEFAULT 0,
					monthly_reset_at TIMESTAMP WITH TIME ZONE,
					lifetime_granted BIGINT NOT NULL DEFAULT 0,
					lifetime_used BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create consumptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS consumptions (
					id VARCHAR(64) PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL REFERENCES organizations(id),
					user_id VARCHAR(255) NOT NULL,
					feature_id VARCHAR(100) NOT NULL,
					credits_used BIGINT NOT NULL CHECK (credits_used > 0),
					source VARCHAR(20) NOT NULL,
					status VARCHAR(20) NOT NULL,
					input_tokens BIGINT NOT NULL DEFAULT 0,
					output_tokens BIGINT NOT NULL DEFAULT 0,
					cost_usd NUMERIC(14, 6) NOT NULL DEFAULT 0,
					model VARCHAR(100) NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					duration_ms BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					completed_at TIMESTAMP WITH TIME ZONE
				);

				CREATE INDEX IF NOT EXISTS idx_consumptions_org_created ON consumptions(organization_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_consumptions_pending ON consumptions(created_at) WHERE status = 'pending';
			`,
		},
		{
			Version:     4,
			Description: "Create subscription_periods table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_periods (
					id VARCHAR(64) PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL REFERENCES organizations(id),
					plan VARCHAR(50) NOT NULL,
					billing_cycle VARCHAR(20) NOT NULL,
					start_date TIMESTAMP WITH TIME ZONE NOT NULL,
					end_date TIMESTAMP WITH TIME ZONE NOT NULL,
					amount NUMERIC(14, 2) NOT NULL DEFAULT 0,
					payment_id VARCHAR(64),
					status VARCHAR(20) NOT NULL,
					monthly_credit_allowance BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_subscription_periods_org ON subscription_periods(organization_id, start_date DESC);
				CREATE UNIQUE INDEX IF NOT EXISTS uniq_subscription_periods_active
					ON subscription_periods(organization_id) WHERE status = 'active';
			`,
		},
		{
			Version:     5,
			Description: "Create payments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS payments (
					id VARCHAR(64) PRIMARY KEY,
					organization_id VARCHAR(64) NOT NULL REFERENCES organizations(id),
					amount NUMERIC(14, 2) NOT NULL CHECK (amount > 0),
					method VARCHAR(50) NOT NULL,
					status VARCHAR(20) NOT NULL,
					period_id VARCHAR(64) REFERENCES subscription_periods(id),
					reference VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_payments_org ON payments(organization_id, created_at DESC);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in creditgate_migrations.
// Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS creditgate_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM creditgate_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}
		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Migration applied")
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO creditgate_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
