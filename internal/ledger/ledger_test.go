package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/remote-lab-rental/internal/model"
)

// memStore is an in-memory Store that mirrors the production semantics:
// Apply mutates the balance and appends the history entry atomically,
// History returns entries newest first.
type memStore struct {
	balances map[uint64]float64
	history  map[uint64][]model.TimeBalanceHistoryEntry
	// failFor makes Apply fail for specific user ids.
	failFor map[uint64]error
}

func newMemStore() *memStore {
	return &memStore{
		balances: make(map[uint64]float64),
		history:  make(map[uint64][]model.TimeBalanceHistoryEntry),
		failFor:  make(map[uint64]error),
	}
}

func (m *memStore) GetOrCreate(ctx context.Context, userID uint64) (float64, error) {
	return m.balances[userID], nil
}

func (m *memStore) Apply(ctx context.Context, userID uint64, fn func(current float64) (float64, model.TimeBalanceHistoryEntry, error)) (float64, error) {
	if err := m.failFor[userID]; err != nil {
		return 0, err
	}
	newBalance, entry, err := fn(m.balances[userID])
	if err != nil {
		return 0, err
	}
	m.balances[userID] = newBalance
	// Prepend so History reads newest first, like the SQL ORDER BY.
	m.history[userID] = append([]model.TimeBalanceHistoryEntry{entry}, m.history[userID]...)
	return newBalance, nil
}

func (m *memStore) History(ctx context.Context, userID uint64) ([]model.TimeBalanceHistoryEntry, error) {
	return m.history[userID], nil
}

func TestLedger_CreditIncreasesBalance(t *testing.T) {
	store := newMemStore()
	l := New(store)
	ctx := context.Background()

	balance, err := l.Credit(ctx, 1, 2.5, "welcome pack", 99)
	require.NoError(t, err)
	assert.Equal(t, 2.5, balance)

	history, err := l.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.OpAdd, history[0].OperationType)
	assert.Equal(t, 2.5, history[0].AmountHours)
	assert.Equal(t, 2.5, history[0].BalanceAfter)
	assert.Equal(t, uint64(99), history[0].CreatedBy)
	assert.Equal(t, "welcome pack", history[0].Notes)
}

func TestLedger_CreditRejectsNonPositive(t *testing.T) {
	store := newMemStore()
	l := New(store)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, 0, "", 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Credit(ctx, 1, -5, "", 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// Rejected requests must not leave any trace.
	history, err := l.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLedger_DebitClampsAtZero(t *testing.T) {
	store := newMemStore()
	l := New(store)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, 1.0, "", 1)
	require.NoError(t, err)

	// Deduct more than remains: balance clamps, the entry keeps the
	// requested signed amount.
	balance, err := l.Debit(ctx, 1, 2.0, "session ended", 1, model.OpSession)
	require.NoError(t, err)
	assert.Equal(t, 0.0, balance)

	history, err := l.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, -2.0, history[0].AmountHours)
	assert.Equal(t, 0.0, history[0].BalanceAfter)
	assert.Equal(t, model.OpSession, history[0].OperationType)
}

func TestLedger_DebitRejectsBadInput(t *testing.T) {
	store := newMemStore()
	l := New(store)
	ctx := context.Background()

	_, err := l.Debit(ctx, 1, -1, "", 1, model.OpDeduct)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Debit(ctx, 1, 1, "", 1, model.OpAdd)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_HistoryReplaysToBalance(t *testing.T) {
	store := newMemStore()
	l := New(store)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, 4, "", 1)
	require.NoError(t, err)
	_, err = l.Debit(ctx, 1, 1.5, "", 1, model.OpDeduct)
	require.NoError(t, err)
	_, err = l.Credit(ctx, 1, 0.5, "", 1)
	require.NoError(t, err)

	balance, err := l.GetBalance(ctx, 1)
	require.NoError(t, err)

	// Summing the signed history amounts must land on the live balance,
	// and each entry's balance_after must match the running sum.
	history, err := l.History(ctx, 1)
	require.NoError(t, err)
	var sum float64
	for i := len(history) - 1; i >= 0; i-- {
		sum += history[i].AmountHours
		assert.Equal(t, sum, history[i].BalanceAfter)
	}
	assert.Equal(t, balance, sum)
}

func TestLedger_BatchCreditPartialFailure(t *testing.T) {
	store := newMemStore()
	boom := errors.New("connection reset")
	store.failFor[2] = boom
	l := New(store)
	ctx := context.Background()

	res := l.BatchCredit(ctx, []uint64{1, 2, 3}, 2, "course group", 99)

	assert.Equal(t, []uint64{1, 3}, res.Credited)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[2], boom)

	// The failing user must not stop the others from being credited.
	b1, _ := l.GetBalance(ctx, 1)
	b2, _ := l.GetBalance(ctx, 2)
	b3, _ := l.GetBalance(ctx, 3)
	assert.Equal(t, 2.0, b1)
	assert.Equal(t, 0.0, b2)
	assert.Equal(t, 2.0, b3)
}
