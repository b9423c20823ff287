// Package ledger owns the durable truth of each user's remaining lab
// hours and the append-only audit trail of every adjustment.  All
// balance mutations in the system go through Credit, Debit or
// BatchCredit; nothing else writes balance rows.
package ledger

import (
    "context"
    "errors"
    "fmt"
    "log"

    "github.com/iliyamo/remote-lab-rental/internal/model"
)

// ErrInvalidAmount is returned when a credit or debit is requested with
// a non-positive hour amount.  No balance row or history entry is
// written in that case.
var ErrInvalidAmount = errors.New("amount must be positive")

// Store is the persistence surface the ledger needs.  The production
// implementation is repository.BalanceRepo, whose Apply runs the
// callback under an exclusive per-user row lock so that the
// read-compute-write-history sequence is one atomic unit.
type Store interface {
    // GetOrCreate returns the user's balance, bootstrapping a zero row
    // on first access.
    GetOrCreate(ctx context.Context, userID uint64) (float64, error)
    // Apply runs fn against the locked current balance and persists the
    // new balance plus the history entry fn returns, atomically.
    Apply(ctx context.Context, userID uint64, fn func(current float64) (float64, model.TimeBalanceHistoryEntry, error)) (float64, error)
    // History lists the user's audit entries, newest first.
    History(ctx context.Context, userID uint64) ([]model.TimeBalanceHistoryEntry, error)
}

// Ledger validates adjustment requests, computes clamped balances and
// builds the audit entries the store persists alongside each mutation.
type Ledger struct {
    store Store
}

// New constructs a Ledger over the given store.
func New(store Store) *Ledger {
    if store == nil {
        panic("nil store passed to ledger.New")
    }
    return &Ledger{store: store}
}

// GetBalance returns the user's current balance in hours, creating the
// zero-hour row on first access.
func (l *Ledger) GetBalance(ctx context.Context, userID uint64) (float64, error) {
    return l.store.GetOrCreate(ctx, userID)
}

// History returns the user's audit entries, newest first.
func (l *Ledger) History(ctx context.Context, userID uint64) ([]model.TimeBalanceHistoryEntry, error) {
    return l.store.History(ctx, userID)
}

// Credit adds hours to a user's balance and appends an "add" history
// entry carrying the positive amount and the resulting balance.  The
// amount must be strictly positive.
func (l *Ledger) Credit(ctx context.Context, userID uint64, hours float64, notes string, actorID uint64) (float64, error) {
    if hours <= 0 {
        return 0, ErrInvalidAmount
    }
    return l.store.Apply(ctx, userID, func(current float64) (float64, model.TimeBalanceHistoryEntry, error) {
        newBalance := current + hours
        return newBalance, model.TimeBalanceHistoryEntry{
            UserID:        userID,
            AmountHours:   hours,
            BalanceAfter:  newBalance,
            OperationType: model.OpAdd,
            Notes:         notes,
            CreatedBy:     actorID,
        }, nil
    })
}

// Debit removes hours from a user's balance, clamping at zero: the
// persisted balance is never negative even when the requested deduction
// exceeds what remains.  The history entry records the signed negative
// amount as requested together with the clamped balance-after.  The
// amount must be strictly positive (callers pass the absolute value)
// and opType must be OpDeduct or OpSession.
func (l *Ledger) Debit(ctx context.Context, userID uint64, hours float64, notes string, actorID uint64, opType string) (float64, error) {
    if hours <= 0 {
        return 0, ErrInvalidAmount
    }
    if opType != model.OpDeduct && opType != model.OpSession {
        return 0, fmt.Errorf("unsupported debit operation type %q", opType)
    }
    return l.store.Apply(ctx, userID, func(current float64) (float64, model.TimeBalanceHistoryEntry, error) {
        newBalance := current - hours
        if newBalance < 0 {
            newBalance = 0
        }
        return newBalance, model.TimeBalanceHistoryEntry{
            UserID:        userID,
            AmountHours:   -hours,
            BalanceAfter:  newBalance,
            OperationType: opType,
            Notes:         notes,
            CreatedBy:     actorID,
        }, nil
    })
}

// BatchResult summarizes a BatchCredit run.  Credited holds the ids
// whose balance was adjusted; Failed maps each failing id to its error.
type BatchResult struct {
    Credited []uint64
    Failed   map[uint64]error
}

// BatchCredit applies the same credit to every listed user.  Users are
// processed independently: one failing write never aborts the others.
// Failures are logged and collected in the result rather than raised,
// so a batch of N users yields between 0 and N successful credits.
func (l *Ledger) BatchCredit(ctx context.Context, userIDs []uint64, hours float64, notes string, actorID uint64) BatchResult {
    res := BatchResult{Failed: make(map[uint64]error)}
    for _, id := range userIDs {
        if _, err := l.Credit(ctx, id, hours, notes, actorID); err != nil {
            log.Printf("ledger: batch credit failed for user %d: %v", id, err)
            res.Failed[id] = err
            continue
        }
        res.Credited = append(res.Credited, id)
    }
    return res
}
