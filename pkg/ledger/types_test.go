package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelectSource(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		bonus   int64
		cost    int64
		want    Source
		ok      bool
	}{
		{"pool covers", 50, 0, 5, SourceOrgPool, true},
		{"pool preferred over large bonus", 5, 1000, 5, SourceOrgPool, true},
		{"falls to bonus", 2, 10, 5, SourceBonus, true},
		{"combined is not enough", 2, 1, 5, "", false},
		{"never split across sources", 3, 2, 5, "", false},
		{"empty", 0, 0, 1, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Ledger{Balance: tt.balance, BonusCredits: tt.bonus}
			got, ok := l.SelectSource(tt.cost)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestDebitAndRefund(t *testing.T) {
	t.Run("org pool", func(t *testing.T) {
		l := &Ledger{Balance: 50, MonthlyUsed: 10, LifetimeUsed: 10}
		l.debit(SourceOrgPool, 5)
		assert.Equal(t, int64(45), l.Balance)
		assert.Equal(t, int64(15), l.MonthlyUsed)
		assert.Equal(t, int64(15), l.LifetimeUsed)

		l.refund(SourceOrgPool, 5)
		assert.Equal(t, int64(50), l.Balance)
		assert.Equal(t, int64(10), l.MonthlyUsed)
		assert.Equal(t, int64(10), l.LifetimeUsed)
	})

	t.Run("bonus leaves monthly usage alone", func(t *testing.T) {
		l := &Ledger{Balance: 2, BonusCredits: 10, MonthlyUsed: 3}
		l.debit(SourceBonus, 5)
		assert.Equal(t, int64(2), l.Balance)
		assert.Equal(t, int64(5), l.BonusCredits)
		assert.Equal(t, int64(3), l.MonthlyUsed)
		assert.Equal(t, int64(5), l.LifetimeUsed)

		l.refund(SourceBonus, 5)
		assert.Equal(t, int64(10), l.BonusCredits)
		assert.Equal(t, int64(0), l.LifetimeUsed)
	})

	t.Run("refund clamps counters at zero", func(t *testing.T) {
		l := &Ledger{Balance: 100, MonthlyUsed: 0, LifetimeUsed: 2}
		l.refund(SourceOrgPool, 5)
		assert.Equal(t, int64(105), l.Balance)
		assert.Equal(t, int64(0), l.MonthlyUsed)
		assert.Equal(t, int64(0), l.LifetimeUsed)
	})
}

func TestFirstOfNextMonth(t *testing.T) {
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		FirstOfNextMonth(time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		FirstOfNextMonth(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)))
}

func TestConsumptionStatusIsTerminal(t *testing.T) {
	assert.False(t, ConsumptionPending.IsTerminal())
	assert.True(t, ConsumptionCompleted.IsTerminal())
	assert.True(t, ConsumptionFailed.IsTerminal())
}

func TestCloneIsDeep(t *testing.T) {
	reset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	l := &Ledger{Balance: 1, MonthlyResetAt: &reset}
	c := l.Clone()
	*c.MonthlyResetAt = reset.Add(time.Hour)
	assert.Equal(t, reset, *l.MonthlyResetAt)
}
