package session

import "errors"

// ErrNoBalance is returned when a session cannot start (or resume)
// because the user's remaining balance is zero.  No session row is
// created in that case.
var ErrNoBalance = errors.New("no time balance remaining")

// ErrSessionActive is returned when a start or resume would give the
// user a second open session.  The protocol allows at most one.
var ErrSessionActive = errors.New("another session is already active")

// ErrNotOwner is returned when a caller operates on a session that
// belongs to a different user.
var ErrNotOwner = errors.New("session belongs to another user")

// ErrServerInactive is returned when the target lab server exists but
// is not accepting new sessions.
var ErrServerInactive = errors.New("lab server is not active")

// ErrLedgerWrite marks the one fatal-for-accounting failure: the
// session interval was closed (time is spent) but the deduction could
// not be persisted.  It must be reported loudly and never silently
// retried, because a blind retry risks double deduction.
var ErrLedgerWrite = errors.New("ledger write failed after session close")
