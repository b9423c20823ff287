package model

import "time"

// Operation types recorded on time balance history entries.  The
// ledger stamps every mutation with one of these so the audit
// trail can distinguish an admin grant from an admin correction
// from time consumed by a lab session.
const (
    OpAdd     = "add"     // manual credit by an admin
    OpDeduct  = "deduct"  // manual debit by an admin
    OpSession = "session" // automatic debit when a session ends
)

// TimeBalance holds the remaining lab entitlement for a single
// user, expressed in fractional hours.  There is at most one row
// per user; it is created lazily with a zero balance on first
// access and mutated only through the ledger's credit/debit entry
// points.  The balance is never persisted negative – debits clamp
// at zero.
//
// Fields:
//  UserID       – owner of the balance (primary key).
//  BalanceHours – remaining entitlement in hours, >= 0.
//  CreatedAt    – when the row was bootstrapped.
//  UpdatedAt    – timestamp of the last mutation.
type TimeBalance struct {
    UserID       uint64    // time_balances.user_id
    BalanceHours float64   // time_balances.balance_hours
    CreatedAt    time.Time // time_balances.created_at
    UpdatedAt    time.Time // time_balances.updated_at
}

// TimeBalanceHistoryEntry is one immutable audit record describing a
// single balance mutation.  Entries are append-only: they are never
// updated or deleted, and replaying them in order from zero (with
// clamping) reproduces the current balance.
//
// Fields:
//  ID            – primary key identifier.
//  UserID        – user whose balance was mutated.
//  AmountHours   – signed delta in hours; positive for credits,
//                  negative for debits.
//  BalanceAfter  – the balance immediately after this entry applied.
//  OperationType – one of OpAdd, OpDeduct, OpSession.
//  Notes         – free-form text supplied by the actor.
//  CreatedBy     – user id of the actor (admin id, or the user's own
//                  id for session debits).
//  CreatedAt     – when the entry was appended.
type TimeBalanceHistoryEntry struct {
    ID            uint64    // time_balance_history.id
    UserID        uint64    // time_balance_history.user_id
    AmountHours   float64   // time_balance_history.amount_hours
    BalanceAfter  float64   // time_balance_history.balance_after
    OperationType string    // time_balance_history.operation_type
    Notes         string    // time_balance_history.notes
    CreatedBy     uint64    // time_balance_history.created_by
    CreatedAt     time.Time // time_balance_history.created_at
}
