// Package session implements the lifecycle of lab occupancy: the
// state machine NoSession -> Active -> (Paused <-> Active) -> Ended,
// the duration accounting behind it, and the ownership of each active
// session's countdown meter.
package session

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/iliyamo/remote-lab-rental/internal/ledger"
    "github.com/iliyamo/remote-lab-rental/internal/metering"
    "github.com/iliyamo/remote-lab-rental/internal/model"
    "github.com/iliyamo/remote-lab-rental/internal/queue"
    "github.com/iliyamo/remote-lab-rental/internal/repository"
)

// Store is the session persistence surface the controller needs.  The
// production implementation is repository.SessionRepo.
type Store interface {
    Insert(ctx context.Context, s *model.Session) error
    GetByID(ctx context.Context, id string) (*model.Session, error)
    OpenByUser(ctx context.Context, userID uint64) (*model.Session, error)
    Close(ctx context.Context, id string, endTime time.Time, durationMinutes float64) error
    UndebitedClosedByUser(ctx context.Context, userID uint64) ([]*model.Session, error)
    MarkDebited(ctx context.Context, ids []string, at time.Time) error
}

// ServerStore resolves lab servers.  The production implementation is
// repository.ServerRepo.
type ServerStore interface {
    GetByID(ctx context.Context, id uint64) (*model.LabServer, error)
}

// ProjectionCache holds the provisional client projection of the
// active session.  The production implementation is
// repository.ProjectionRepo; failures here are logged, never fatal,
// because the projection is a convenience copy of server truth.
type ProjectionCache interface {
    Save(ctx context.Context, userID uint64, p repository.SessionProjection) error
    Clear(ctx context.Context, userID uint64) error
}

// Notifier delivers fire-and-forget user notifications.  The core
// never depends on delivery succeeding.
type Notifier interface {
    SessionEnded(ctx context.Context, ev queue.SessionEndedEvent)
    BalanceDepleted(ctx context.Context, ev queue.BalanceDepletedEvent)
}

// AccessNotifier is told about active-state transitions so the access
// gate's verification schedule follows the session lifecycle.  The
// production implementation is gate.Registry.
type AccessNotifier interface {
    SessionStarted(userID uint64, sessionID string, startedAt time.Time)
    SessionEnded(userID uint64)
}

// Config wires a Controller.  Sessions, Servers and Ledger are
// required; Cache, Notifier and Access are optional collaborators.
type Config struct {
    Sessions Store
    Servers  ServerStore
    Ledger   *ledger.Ledger
    Cache    ProjectionCache
    Notifier Notifier
    Access   AccessNotifier
    // Now overrides the wall clock (time.Now when nil).
    Now func() time.Time
    // TickInterval overrides the meter tick period, mainly for tests.
    TickInterval time.Duration
}

// Controller mutates session rows and the ledger, and owns one
// countdown meter per user with an active session.  Meters are
// explicit handles: every transition out of Active stops the meter
// synchronously, and every start/resume creates a fresh one, so no
// leaked timer can fire an end for a dead interval.
type Controller struct {
    sessions Store
    servers  ServerStore
    ledger   *ledger.Ledger
    cache    ProjectionCache
    notifier Notifier
    access   AccessNotifier
    now      func() time.Time
    tick     time.Duration

    mu     sync.Mutex
    meters map[uint64]*metering.Countdown
}

// NewController constructs a Controller from cfg.
func NewController(cfg Config) *Controller {
    if cfg.Sessions == nil || cfg.Servers == nil || cfg.Ledger == nil {
        panic("nil dependency passed to session.NewController")
    }
    c := &Controller{
        sessions: cfg.Sessions,
        servers:  cfg.Servers,
        ledger:   cfg.Ledger,
        cache:    cfg.Cache,
        notifier: cfg.Notifier,
        access:   cfg.Access,
        now:      cfg.Now,
        tick:     cfg.TickInterval,
        meters:   make(map[uint64]*metering.Countdown),
    }
    if c.now == nil {
        c.now = time.Now
    }
    return c
}

// Start opens a new session for the user on the given lab server.  It
// fails with ErrNoBalance when the balance is zero (no row is
// created), with ErrSessionActive when the user already has an open
// session, and with repository.ErrServerNotFound / ErrServerInactive
// for bad targets.  On success the countdown meter begins with the
// balance captured at this moment as its fixed budget.
func (c *Controller) Start(ctx context.Context, userID, serverID uint64) (*model.Session, error) {
    srv, err := c.servers.GetByID(ctx, serverID)
    if err != nil {
        return nil, err
    }
    if !srv.IsActive {
        return nil, ErrServerInactive
    }

    // At most one open session per user; enforced here by protocol.
    if _, err := c.sessions.OpenByUser(ctx, userID); err == nil {
        return nil, ErrSessionActive
    } else if !errors.Is(err, repository.ErrSessionNotFound) {
        return nil, err
    }

    balance, err := c.ledger.GetBalance(ctx, userID)
    if err != nil {
        return nil, err
    }
    if balance <= 0 {
        return nil, ErrNoBalance
    }

    sess := &model.Session{
        ID:        uuid.NewString(),
        UserID:    userID,
        ServerID:  serverID,
        StartTime: c.now().UTC(),
    }
    if err := c.sessions.Insert(ctx, sess); err != nil {
        return nil, err
    }

    budget := hoursToDuration(balance)
    c.saveProjection(ctx, userID, sess, budget)
    c.startMeter(userID, sess.ID, sess.StartTime, budget)
    if c.access != nil {
        c.access.SessionStarted(userID, sess.ID, sess.StartTime)
    }
    return sess, nil
}

// Pause closes the current session interval without deducting the
// balance.  The consumed minutes stay recorded on the closed row and
// are swept into the single deduction at the final End.
func (c *Controller) Pause(ctx context.Context, userID uint64, sessionID string) (*model.Session, error) {
    sess, err := c.sessions.GetByID(ctx, sessionID)
    if err != nil {
        return nil, err
    }
    if sess.UserID != userID {
        return nil, ErrNotOwner
    }
    if !sess.Open() {
        return nil, repository.ErrSessionClosed
    }

    // Meter first: once the interval is leaving Active no tick may
    // fire an expiry end for it.
    c.stopMeter(userID)

    endTime := c.now().UTC()
    duration := endTime.Sub(sess.StartTime).Minutes()
    if err := c.sessions.Close(ctx, sessionID, endTime, duration); err != nil {
        return nil, err
    }
    sess.EndTime = &endTime
    sess.DurationMinutes = &duration

    c.clearProjection(ctx, userID)
    if c.access != nil {
        c.access.SessionEnded(userID)
    }
    return sess, nil
}

// Resume opens a NEW session row continuing a paused occupancy; the
// old row's end_time is immutable, so the interval cannot be reopened.
// The meter budget is the balance minus the minutes already consumed
// by closed-but-undebited intervals, so expiry timing agrees with the
// deduction the final End will make.
func (c *Controller) Resume(ctx context.Context, userID uint64, sessionID string) (*model.Session, error) {
    prev, err := c.sessions.GetByID(ctx, sessionID)
    if err != nil {
        return nil, err
    }
    if prev.UserID != userID {
        return nil, ErrNotOwner
    }
    if prev.Open() {
        return nil, ErrSessionActive
    }
    if _, err := c.sessions.OpenByUser(ctx, userID); err == nil {
        return nil, ErrSessionActive
    } else if !errors.Is(err, repository.ErrSessionNotFound) {
        return nil, err
    }

    balance, err := c.ledger.GetBalance(ctx, userID)
    if err != nil {
        return nil, err
    }
    consumed, err := c.undebitedHours(ctx, userID)
    if err != nil {
        return nil, err
    }
    remaining := balance - consumed
    if remaining <= 0 {
        return nil, ErrNoBalance
    }

    sess := &model.Session{
        ID:        uuid.NewString(),
        UserID:    userID,
        ServerID:  prev.ServerID,
        StartTime: c.now().UTC(),
    }
    if err := c.sessions.Insert(ctx, sess); err != nil {
        return nil, err
    }

    budget := hoursToDuration(remaining)
    c.saveProjection(ctx, userID, sess, budget)
    c.startMeter(userID, sess.ID, sess.StartTime, budget)
    if c.access != nil {
        c.access.SessionStarted(userID, sess.ID, sess.StartTime)
    }
    return sess, nil
}

// End finalizes a logical occupancy: it closes the currently open row
// (always re-read fresh, never a cached copy), sums every closed,
// not-yet-debited interval of the user, deducts the total as one
// "session" debit, marks those rows debited and re-fetches the fresh
// balance so the reported value is the ledger's, not a stale local one.
//
// End is idempotent on the already-finalized state: a second call
// finds nothing undebited and deducts nothing.  If the ledger write
// fails after the close, the rows stay closed (the time is spent) and
// ErrLedgerWrite is returned; nothing is retried automatically.
func (c *Controller) End(ctx context.Context, userID uint64, sessionID string) (*model.Session, error) {
    sess, err := c.sessions.GetByID(ctx, sessionID)
    if err != nil {
        return nil, err
    }
    if sess.UserID != userID {
        return nil, ErrNotOwner
    }
    if !sess.Open() {
        // Ending an old interval while a different one is active would
        // tear down the wrong meter; the active session must be ended
        // by its own id.
        if open, err := c.sessions.OpenByUser(ctx, userID); err == nil && open.ID != sessionID {
            return nil, ErrSessionActive
        } else if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
            return nil, err
        }
    }

    c.stopMeter(userID)

    if sess.Open() {
        endTime := c.now().UTC()
        duration := endTime.Sub(sess.StartTime).Minutes()
        err := c.sessions.Close(ctx, sessionID, endTime, duration)
        if err != nil && !errors.Is(err, repository.ErrSessionClosed) {
            return nil, err
        }
        // ErrSessionClosed means a concurrent end won the close; the
        // sweep below still settles the accounting exactly once.
    }

    c.clearProjection(ctx, userID)
    if c.access != nil {
        c.access.SessionEnded(userID)
    }

    undebited, err := c.sessions.UndebitedClosedByUser(ctx, userID)
    if err != nil {
        return nil, err
    }
    if len(undebited) == 0 {
        // Already finalized; double end must stay harmless.
        return c.sessions.GetByID(ctx, sessionID)
    }

    var totalMinutes float64
    ids := make([]string, 0, len(undebited))
    for _, s := range undebited {
        if s.DurationMinutes != nil {
            totalMinutes += *s.DurationMinutes
        }
        ids = append(ids, s.ID)
    }
    hours := totalMinutes / 60

    if hours > 0 {
        if _, err := c.ledger.Debit(ctx, userID, hours, "session ended", userID, model.OpSession); err != nil {
            // Time is spent but not deducted: report, do not retry.
            return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
        }
    }
    if err := c.sessions.MarkDebited(ctx, ids, c.now().UTC()); err != nil {
        // The debit committed; an unmarked row would be swept again by
        // a later end.  Loud log so the ledger can be reconciled.
        log.Printf("session: marking %d debited rows failed for user %d: %v", len(ids), userID, err)
    }

    // Fresh truth after the debit: the UI must never show the cached
    // pre-debit value.
    balance, err := c.ledger.GetBalance(ctx, userID)
    if err != nil {
        return nil, err
    }

    sess, err = c.sessions.GetByID(ctx, sessionID)
    if err != nil {
        return nil, err
    }

    if c.notifier != nil {
        endedAt := c.now().UTC().Format(time.RFC3339)
        c.notifier.SessionEnded(ctx, queue.SessionEndedEvent{
            SessionID:       sess.ID,
            UserID:          userID,
            ServerID:        sess.ServerID,
            DurationMinutes: totalMinutes,
            HoursDebited:    hours,
            BalanceAfter:    balance,
            EndedAt:         endedAt,
        })
        if balance <= 0 {
            c.notifier.BalanceDepleted(ctx, queue.BalanceDepletedEvent{
                UserID:     userID,
                SessionID:  sess.ID,
                DepletedAt: endedAt,
            })
        }
    }
    return sess, nil
}

// Meter returns the user's live countdown, or nil when no session is
// active.  Exposed for the remaining-seconds estimate on the active
// session endpoint.
func (c *Controller) Meter(userID uint64) *metering.Countdown {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.meters[userID]
}

// startMeter replaces the user's meter with a fresh countdown whose
// expiry triggers End for this specific session id.
func (c *Controller) startMeter(userID uint64, sessionID string, startedAt time.Time, budget time.Duration) {
    meter := metering.New(metering.Config{
        Budget:    budget,
        StartedAt: startedAt,
        Interval:  c.tick,
        Now:       c.now,
        OnExpire: func() {
            ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
            defer cancel()
            if _, err := c.End(ctx, userID, sessionID); err != nil {
                log.Printf("session: expiry end of %s failed: %v", sessionID, err)
            }
        },
    })
    c.mu.Lock()
    old := c.meters[userID]
    c.meters[userID] = meter
    c.mu.Unlock()
    if old != nil {
        old.Stop()
    }
    meter.Start()
}

// stopMeter tears down the user's meter, if any.  Safe to call from
// the meter's own expiry path.
func (c *Controller) stopMeter(userID uint64) {
    c.mu.Lock()
    meter := c.meters[userID]
    delete(c.meters, userID)
    c.mu.Unlock()
    if meter != nil {
        meter.Stop()
    }
}

// undebitedHours sums the closed-but-undebited interval minutes for a
// user and converts them to hours.
func (c *Controller) undebitedHours(ctx context.Context, userID uint64) (float64, error) {
    rows, err := c.sessions.UndebitedClosedByUser(ctx, userID)
    if err != nil {
        return 0, err
    }
    var minutes float64
    for _, s := range rows {
        if s.DurationMinutes != nil {
            minutes += *s.DurationMinutes
        }
    }
    return minutes / 60, nil
}

func (c *Controller) saveProjection(ctx context.Context, userID uint64, sess *model.Session, budget time.Duration) {
    if c.cache == nil {
        return
    }
    err := c.cache.Save(ctx, userID, repository.SessionProjection{
        SessionID:             sess.ID,
        ServerID:              sess.ServerID,
        StartTime:             sess.StartTime,
        BalanceSecondsAtStart: budget.Seconds(),
    })
    if err != nil {
        log.Printf("session: caching projection for user %d failed: %v", userID, err)
    }
}

func (c *Controller) clearProjection(ctx context.Context, userID uint64) {
    if c.cache == nil {
        return
    }
    if err := c.cache.Clear(ctx, userID); err != nil {
        log.Printf("session: clearing projection for user %d failed: %v", userID, err)
    }
}

func hoursToDuration(hours float64) time.Duration {
    return time.Duration(hours * float64(time.Hour))
}
