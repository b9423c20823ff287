// Package verify confirms that a session the client believes is active
// actually exists, is owned by the caller and is not stale.  The client
// projection is only ever provisional; every access decision rests on a
// verdict from this package.
package verify

import (
    "context"
    "errors"
    "log"
    "time"

    "github.com/iliyamo/remote-lab-rental/internal/model"
    "github.com/iliyamo/remote-lab-rental/internal/repository"
)

// Reasons carried on an Invalid verdict.  The gate treats all of them
// the same (lock), but handlers and logs keep the distinction.
var (
    // ErrSessionNotOwned means the session exists but belongs to a
    // different user than the caller.
    ErrSessionNotOwned = errors.New("session not owned by caller")
    // ErrSessionStale means the session's start time is older than the
    // staleness bound; the row is force-closed as a side effect.
    ErrSessionStale = errors.New("session is stale")
    // ErrSessionEnded means the session row is already closed.
    ErrSessionEnded = errors.New("session has ended")
)

// DefaultStaleAfter is how old an open session's start time may be
// before the session is considered abandoned.
const DefaultStaleAfter = 24 * time.Hour

// DefaultCreationGrace is how long after a claimed session start a
// missing row is still given the benefit of the doubt, to absorb
// read-after-write lag immediately after start.
const DefaultCreationGrace = 3 * time.Second

// Verdict is the outcome of one verification.  Reason is nil when
// Valid; otherwise it names which check failed.
type Verdict struct {
    Valid  bool
    Reason error
}

// SessionStore is the read surface the verifier needs, plus the
// force-close used when a stale open row is found.  The production
// implementation is repository.SessionRepo.
type SessionStore interface {
    GetByID(ctx context.Context, id string) (*model.Session, error)
    ForceClose(ctx context.Context, id string, bound time.Duration) error
}

// Verifier checks claimed sessions against the authoritative store.
// It fails closed: any lookup problem other than the documented
// creation-grace case yields an Invalid verdict.
type Verifier struct {
    store      SessionStore
    staleAfter time.Duration
    grace      time.Duration
    now        func() time.Time
}

// NewVerifier builds a Verifier over the given store.  Zero staleAfter
// or grace select the package defaults.
func NewVerifier(store SessionStore, staleAfter, grace time.Duration) *Verifier {
    if store == nil {
        panic("nil store passed to verify.NewVerifier")
    }
    if staleAfter <= 0 {
        staleAfter = DefaultStaleAfter
    }
    if grace <= 0 {
        grace = DefaultCreationGrace
    }
    return &Verifier{store: store, staleAfter: staleAfter, grace: grace, now: time.Now}
}

// WithClock overrides the wall clock.  Tests inject a fake clock here.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
    v.now = now
    return v
}

// Verify checks that sessionID names an open session owned by callerID
// whose start is within the staleness bound.
//
// claimedStart is the start time the client believes its session has.
// When the row cannot be found but claimedStart is within the creation
// grace window, the verdict is Valid anyway: a session created moments
// ago may not be visible yet, and failing it would lock the gate right
// after a successful start.  Every other missing-row case is Invalid.
func (v *Verifier) Verify(ctx context.Context, callerID uint64, sessionID string, claimedStart time.Time) Verdict {
    sess, err := v.store.GetByID(ctx, sessionID)
    if err != nil {
        if errors.Is(err, repository.ErrSessionNotFound) {
            if !claimedStart.IsZero() && v.now().Sub(claimedStart) <= v.grace {
                return Verdict{Valid: true}
            }
            return Verdict{Reason: repository.ErrSessionNotFound}
        }
        // Lookup failure: fail closed rather than guessing.
        return Verdict{Reason: err}
    }
    if sess.UserID != callerID {
        return Verdict{Reason: ErrSessionNotOwned}
    }
    if sess.EndTime != nil {
        return Verdict{Reason: ErrSessionEnded}
    }
    if v.now().Sub(sess.StartTime) > v.staleAfter {
        // An open-but-ancient row is an abandoned session.  Close it so
        // it stops accruing duration; the verdict is Invalid either way.
        if err := v.store.ForceClose(ctx, sess.ID, v.staleAfter); err != nil {
            log.Printf("verify: force-close of stale session %s failed: %v", sess.ID, err)
        }
        return Verdict{Reason: ErrSessionStale}
    }
    return Verdict{Valid: true}
}
