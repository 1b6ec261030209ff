package ledger

import (
	"context"
	"time"

	"github.com/platinummonkey/creditgate/pkg/orgs"
)

// Tx is the set of reads and writes available inside one ledger transaction.
// The *ForUpdate reads lock the row until the transaction ends. Missing rows
// are reported as storage.ErrNotFound.
type Tx interface {
	GetOrganization(ctx context.Context, orgID string) (*orgs.Organization, error)

	GetLedgerForUpdate(ctx context.Context, orgID string) (*Ledger, error)
	InsertLedger(ctx context.Context, l *Ledger) error
	UpdateLedger(ctx context.Context, l *Ledger) error

	InsertConsumption(ctx context.Context, c *Consumption) error
	GetConsumptionForUpdate(ctx context.Context, id string) (*Consumption, error)
	UpdateConsumption(ctx context.Context, c *Consumption) error

	// ActivePeriodAllowance returns the monthly credit allowance of the
	// organization's active subscription period; ok is false when there is none.
	ActivePeriodAllowance(ctx context.Context, orgID string) (allowance int64, ok bool, err error)
}

// Store runs ledger transactions and serves read-only queries
type Store interface {
	// RunInTx runs fn in one serializable transaction, committing when fn
	// returns nil and rolling back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrganization(ctx context.Context, orgID string) (*orgs.Organization, error)
	GetLedger(ctx context.Context, orgID string) (*Ledger, error)
	GetConsumption(ctx context.Context, id string) (*Consumption, error)

	// ListLedgerOrganizationIDs returns the organization id of every ledger
	ListLedgerOrganizationIDs(ctx context.Context) ([]string, error)

	// ListStaleConsumptions returns ids of pending consumptions created before cutoff, oldest first
	ListStaleConsumptions(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}
