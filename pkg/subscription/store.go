package subscription

import (
	"context"

	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/orgs"
)

// Tx is the transactional view the lifecycle operations need. It includes
// the ledger operations so activation can initialize credits atomically.
type Tx interface {
	ledger.Tx

	GetOrganizationForUpdate(ctx context.Context, id string) (*orgs.Organization, error)
	UpdateOrganization(ctx context.Context, org *orgs.Organization) error

	// GetActivePeriodForUpdate returns storage.ErrNotFound when no period is active.
	GetActivePeriodForUpdate(ctx context.Context, orgID string) (*Period, error)
	// GetLatestExpiredPeriodForUpdate returns storage.ErrNotFound when none exists.
	GetLatestExpiredPeriodForUpdate(ctx context.Context, orgID string) (*Period, error)
	InsertPeriod(ctx context.Context, p *Period) error
	UpdatePeriod(ctx context.Context, p *Period) error

	GetPaymentForUpdate(ctx context.Context, id string) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
}

// PaymentReader reads payments outside a transaction
type PaymentReader interface {
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// Store is the persistence contract for the subscription service
type Store interface {
	orgs.Reader
	orgs.Lister
	PaymentReader

	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListPeriods(ctx context.Context, orgID string) ([]*Period, error)
}
