package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/creditgate/pkg/ledger"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/storage"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

type state struct {
	orgs         map[string]*orgs.Organization
	ledgers      map[string]*ledger.Ledger
	consumptions map[string]*ledger.Consumption
	periods      map[string]*subscription.Period
	payments     map[string]*subscription.Payment
}

func newState() *state {
	return &state{
		orgs:         make(map[string]*orgs.Organization),
		ledgers:      make(map[string]*ledger.Ledger),
		consumptions: make(map[string]*ledger.Consumption),
		periods:      make(map[string]*subscription.Period),
		payments:     make(map[string]*subscription.Payment),
	}
}

// commit folds the rows written by a transaction into st
func (st *state) commit(w *state) {
	maps.Copy(st.orgs, w.orgs)
	maps.Copy(st.ledgers, w.ledgers)
	maps.Copy(st.consumptions, w.consumptions)
	maps.Copy(st.periods, w.periods)
	maps.Copy(st.payments, w.payments)
}

// lookup reads a row from the transaction's writes, falling back to the
// committed state
func lookup[V any](w, base map[string]V, id string) (V, bool) {
	if v, ok := w[id]; ok {
		return v, true
	}
	v, ok := base[id]
	return v, ok
}

// Store holds all billing state in memory
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

// Ledger returns the store as a ledger.Store
func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{Store: s}
}

// Subscription returns the store as a subscription.Store
func (s *Store) Subscription() *SubscriptionStore {
	return &SubscriptionStore{Store: s}
}

func (s *Store) runInTx(ctx context.Context, fn func(tx *memTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTx(s.st)
	if err := fn(tx); err != nil {
		return err
	}
	s.st.commit(tx.w)
	return nil
}

// PutOrganization inserts or replaces an organization. The status is
// normalized the same way the PostgreSQL store does on read.
func (s *Store) PutOrganization(org *orgs.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := org.Clone()
	c.Status = orgs.NormalizeStatus(string(c.Status))
	s.st.orgs[c.ID] = c
}

// PutLedger inserts or replaces a ledger
func (s *Store) PutLedger(l *ledger.Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ledgers[l.OrganizationID] = l.Clone()
}

// PutPeriod inserts or replaces a subscription period
func (s *Store) PutPeriod(p *subscription.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.periods[p.ID] = p.Clone()
}

// PutPayment inserts or replaces a payment
func (s *Store) PutPayment(p *subscription.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments[p.ID] = p.Clone()
}

// PutConsumption inserts or replaces a consumption record
func (s *Store) PutConsumption(c *ledger.Consumption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.consumptions[c.ID] = c.Clone()
}

// GetOrganization returns a copy of an organization
func (s *Store) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newTx(s.st).GetOrganization(ctx, id)
}

// GetLedger returns a copy of an organization's ledger
func (s *Store) GetLedger(ctx context.Context, orgID string) (*ledger.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newTx(s.st).GetLedgerForUpdate(ctx, orgID)
}

// GetConsumption returns a copy of a consumption record
func (s *Store) GetConsumption(ctx context.Context, id string) (*ledger.Consumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newTx(s.st).GetConsumptionForUpdate(ctx, id)
}

// GetPayment returns a copy of a payment
func (s *Store) GetPayment(ctx context.Context, id string) (*subscription.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newTx(s.st).GetPaymentForUpdate(ctx, id)
}

// ListPeriods returns an organization's periods, newest start first
func (s *Store) ListPeriods(ctx context.Context, orgID string) ([]*subscription.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*subscription.Period
	for _, p := range s.st.periods {
		if p.OrganizationID == orgID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].StartDate.After(out[j].StartDate)
	})
	return out, nil
}

// ListOrganizationIDsByStatus returns matching organization ids in id order
func (s *Store) ListOrganizationIDsByStatus(ctx context.Context, statuses ...orgs.Status) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[orgs.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var ids []string
	for id, org := range s.st.orgs {
		if want[org.Status] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListLedgerOrganizationIDs returns the organization id of every ledger
func (s *Store) ListLedgerOrganizationIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.st.ledgers))
	for id := range s.st.ledgers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListStaleConsumptions returns pending consumptions created before cutoff, oldest first
func (s *Store) ListStaleConsumptions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*ledger.Consumption
	for _, c := range s.st.consumptions {
		if c.Status == ledger.ConsumptionPending && c.CreatedAt.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ID
	}
	return ids, nil
}

// LedgerStore adapts Store to ledger.Store
type LedgerStore struct {
	*Store
}

// RunInTx runs fn in a serialized transaction
func (l *LedgerStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return l.runInTx(ctx, func(tx *memTx) error { return fn(ctx, tx) })
}

// SubscriptionStore adapts Store to subscription.Store
type SubscriptionStore struct {
	*Store
}

// RunInTx runs fn in a serialized transaction
func (s *SubscriptionStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx subscription.Tx) error) error {
	return s.runInTx(ctx, func(tx *memTx) error { return fn(ctx, tx) })
}

var (
	_ ledger.Store       = (*LedgerStore)(nil)
	_ subscription.Store = (*SubscriptionStore)(nil)
	_ subscription.Tx    = (*memTx)(nil)
)

// memTx reads through its own writes to the committed state. Committed
// rows are never mutated in place, so only the rows a transaction touches
// are copied.
type memTx struct {
	st *state
	w  *state
}

func newTx(st *state) *memTx {
	return &memTx{st: st, w: newState()}
}

func (t *memTx) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	org, ok := lookup(t.w.orgs, t.st.orgs, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return org.Clone(), nil
}

func (t *memTx) GetOrganizationForUpdate(ctx context.Context, id string) (*orgs.Organization, error) {
	return t.GetOrganization(ctx, id)
}

func (t *memTx) UpdateOrganization(ctx context.Context, org *orgs.Organization) error {
	if _, ok := lookup(t.w.orgs, t.st.orgs, org.ID); !ok {
		return storage.ErrNotFound
	}
	t.w.orgs[org.ID] = org.Clone()
	return nil
}

func (t *memTx) GetLedgerForUpdate(ctx context.Context, orgID string) (*ledger.Ledger, error) {
	l, ok := lookup(t.w.ledgers, t.st.ledgers, orgID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return l.Clone(), nil
}

func (t *memTx) InsertLedger(ctx context.Context, l *ledger.Ledger) error {
	if _, ok := lookup(t.w.ledgers, t.st.ledgers, l.OrganizationID); ok {
		return fmt.Errorf("ledger for organization %s already exists", l.OrganizationID)
	}
	t.w.ledgers[l.OrganizationID] = l.Clone()
	return nil
}

func (t *memTx) UpdateLedger(ctx context.Context, l *ledger.Ledger) error {
	if _, ok := lookup(t.w.ledgers, t.st.ledgers, l.OrganizationID); !ok {
		return storage.ErrNotFound
	}
	if l.Balance < 0 || l.BonusCredits < 0 {
		return fmt.Errorf("ledger for organization %s would go negative", l.OrganizationID)
	}
	t.w.ledgers[l.OrganizationID] = l.Clone()
	return nil
}

func (t *memTx) InsertConsumption(ctx context.Context, c *ledger.Consumption) error {
	if _, ok := lookup(t.w.consumptions, t.st.consumptions, c.ID); ok {
		return fmt.Errorf("consumption %s already exists", c.ID)
	}
	t.w.consumptions[c.ID] = c.Clone()
	return nil
}

func (t *memTx) GetConsumptionForUpdate(ctx context.Context, id string) (*ledger.Consumption, error) {
	c, ok := lookup(t.w.consumptions, t.st.consumptions, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

func (t *memTx) UpdateConsumption(ctx context.Context, c *ledger.Consumption) error {
	if _, ok := lookup(t.w.consumptions, t.st.consumptions, c.ID); !ok {
		return storage.ErrNotFound
	}
	t.w.consumptions[c.ID] = c.Clone()
	return nil
}

// periods visits every period of the organization as seen by the transaction
func (t *memTx) periods(orgID string, visit func(p *subscription.Period)) {
	for id, p := range t.st.periods {
		if _, shadowed := t.w.periods[id]; !shadowed && p.OrganizationID == orgID {
			visit(p)
		}
	}
	for _, p := range t.w.periods {
		if p.OrganizationID == orgID {
			visit(p)
		}
	}
}

func (t *memTx) activePeriod(orgID string) *subscription.Period {
	var active *subscription.Period
	t.periods(orgID, func(p *subscription.Period) {
		if p.Status == subscription.PeriodActive {
			active = p
		}
	})
	return active
}

func (t *memTx) ActivePeriodAllowance(ctx context.Context, orgID string) (int64, bool, error) {
	p := t.activePeriod(orgID)
	if p == nil {
		return 0, false, nil
	}
	return p.MonthlyCreditAllowance, true, nil
}

func (t *memTx) GetActivePeriodForUpdate(ctx context.Context, orgID string) (*subscription.Period, error) {
	p := t.activePeriod(orgID)
	if p == nil {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) GetLatestExpiredPeriodForUpdate(ctx context.Context, orgID string) (*subscription.Period, error) {
	var latest *subscription.Period
	t.periods(orgID, func(p *subscription.Period) {
		if p.Status != subscription.PeriodExpired {
			return
		}
		if latest == nil || p.EndDate.After(latest.EndDate) {
			latest = p
		}
	})
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest.Clone(), nil
}

func (t *memTx) InsertPeriod(ctx context.Context, p *subscription.Period) error {
	if _, ok := lookup(t.w.periods, t.st.periods, p.ID); ok {
		return fmt.Errorf("period %s already exists", p.ID)
	}
	if p.Status == subscription.PeriodActive && t.activePeriod(p.OrganizationID) != nil {
		return fmt.Errorf("organization %s already has an active period", p.OrganizationID)
	}
	t.w.periods[p.ID] = p.Clone()
	return nil
}

func (t *memTx) UpdatePeriod(ctx context.Context, p *subscription.Period) error {
	if _, ok := lookup(t.w.periods, t.st.periods, p.ID); !ok {
		return storage.ErrNotFound
	}
	t.w.periods[p.ID] = p.Clone()
	return nil
}

func (t *memTx) GetPaymentForUpdate(ctx context.Context, id string) (*subscription.Payment, error) {
	p, ok := lookup(t.w.payments, t.st.payments, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *subscription.Payment) error {
	if _, ok := lookup(t.w.payments, t.st.payments, p.ID); ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	t.w.payments[p.ID] = p.Clone()
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *subscription.Payment) error {
	if _, ok := lookup(t.w.payments, t.st.payments, p.ID); !ok {
		return storage.ErrNotFound
	}
	t.w.payments[p.ID] = p.Clone()
	return nil
}
