package gate

import (
    "context"
    "log"
    "sync"
    "time"

    "github.com/iliyamo/remote-lab-rental/internal/verify"
)

// Registry owns one Gate per user together with the verification
// schedule that feeds it.  The schedule exists only while a session is
// presumed active: it is created on start/resume and torn down
// synchronously on pause/end, so no late verdict can re-open a gate
// after the session left the active state.
type Registry struct {
    verifier     *verify.Verifier
    initialDelay time.Duration
    interval     time.Duration

    mu      sync.Mutex
    entries map[uint64]*entry
}

type entry struct {
    gate      *Gate
    sched     *verify.Scheduler
    sessionID string
}

// NewRegistry builds a Registry over the given verifier.  Zero delay or
// interval select the verify package defaults.
func NewRegistry(verifier *verify.Verifier, initialDelay, interval time.Duration) *Registry {
    if verifier == nil {
        panic("nil verifier passed to gate.NewRegistry")
    }
    return &Registry{
        verifier:     verifier,
        initialDelay: initialDelay,
        interval:     interval,
        entries:      make(map[uint64]*entry),
    }
}

// Gate returns the user's gate, creating a Locked one on first access.
func (r *Registry) Gate(userID uint64) *Gate {
    r.mu.Lock()
    defer r.mu.Unlock()
    return r.entry(userID).gate
}

// entry must be called with r.mu held.
func (r *Registry) entry(userID uint64) *entry {
    e, ok := r.entries[userID]
    if !ok {
        e = &entry{gate: New(func(s State) {
            log.Printf("gate: user %d -> %s", userID, s)
        })}
        r.entries[userID] = e
    }
    return e
}

// SessionStarted begins (or restarts) the verification schedule for a
// user's newly active session interval.  Any previous schedule is
// stopped first; resume opens a new session row with its own id and
// start time, so the old schedule's claim is obsolete.
func (r *Registry) SessionStarted(userID uint64, sessionID string, startedAt time.Time) {
    r.mu.Lock()
    e := r.entry(userID)
    old := e.sched
    e.sched = nil
    r.mu.Unlock()
    if old != nil {
        old.Stop()
    }

    g := e.gate
    sched := verify.NewScheduler(verify.SchedulerConfig{
        InitialDelay: r.initialDelay,
        Interval:     r.interval,
        Check: func(ctx context.Context) verify.Verdict {
            return r.verifier.Verify(ctx, userID, sessionID, startedAt)
        },
        Report: func(v verify.Verdict) {
            if !v.Valid && v.Reason != nil {
                log.Printf("gate: verification failed for user %d session %s: %v", userID, sessionID, v.Reason)
            }
            g.Report(v.Valid)
        },
    })

    r.mu.Lock()
    e.sessionID = sessionID
    e.sched = sched
    r.mu.Unlock()
    sched.Start()
}

// SessionEnded tears down the user's verification schedule and locks
// the gate.  The scheduler stop is synchronous, so by the time this
// returns no pending check can report a verdict for the dead session.
func (r *Registry) SessionEnded(userID uint64) {
    r.mu.Lock()
    e, ok := r.entries[userID]
    var sched *verify.Scheduler
    if ok {
        sched = e.sched
        e.sched = nil
        e.sessionID = ""
    }
    r.mu.Unlock()
    if sched != nil {
        sched.Stop()
    }
    if ok {
        e.gate.Reset()
    }
}

// Refocus requests an opportunistic re-verification for a user, e.g.
// when the embedding tab regains visibility.  No-op without an active
// schedule.
func (r *Registry) Refocus(userID uint64) {
    r.mu.Lock()
    e, ok := r.entries[userID]
    var sched *verify.Scheduler
    if ok {
        sched = e.sched
    }
    r.mu.Unlock()
    if sched != nil {
        sched.Refocus()
    }
}

// Verify runs a single on-demand verification of the given session for
// the user and feeds the verdict to the gate, returning it to the
// caller as well.
func (r *Registry) Verify(ctx context.Context, userID uint64, sessionID string, claimedStart time.Time) verify.Verdict {
    v := r.verifier.Verify(ctx, userID, sessionID, claimedStart)
    r.Gate(userID).Report(v.Valid)
    return v
}
