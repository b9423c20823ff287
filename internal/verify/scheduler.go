package verify

import (
    "context"
    "sync"
    "time"
)

// Default recheck cadence.  The first check is delayed so it does not
// race the read-after-write window right after a session starts.
const (
    DefaultInitialDelay = 2 * time.Second
    DefaultInterval     = 10 * time.Second
)

// SchedulerConfig describes one verification schedule.
type SchedulerConfig struct {
    // Check performs one verification against the authoritative store.
    Check func(ctx context.Context) Verdict
    // Report receives every verdict, in order.
    Report func(Verdict)
    // InitialDelay before the first check (DefaultInitialDelay when zero).
    InitialDelay time.Duration
    // Interval between periodic checks (DefaultInterval when zero).
    Interval time.Duration
}

// Scheduler re-runs verification while access is presumed active: once
// shortly after start, then on a fixed interval, plus opportunistic
// checks whenever the client reports regained focus.  All checks run on
// a single goroutine, so a verification already in flight is never
// re-issued; refocus signals arriving during a check coalesce into at
// most one follow-up.
type Scheduler struct {
    check        func(ctx context.Context) Verdict
    report       func(Verdict)
    initialDelay time.Duration
    interval     time.Duration

    refocus  chan struct{}
    stopOnce sync.Once
    stop     chan struct{}
    done     chan struct{}
}

// NewScheduler builds a Scheduler from cfg.  Start must be called to
// begin checking.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
    s := &Scheduler{
        check:        cfg.Check,
        report:       cfg.Report,
        initialDelay: cfg.InitialDelay,
        interval:     cfg.Interval,
        refocus:      make(chan struct{}, 1),
        stop:         make(chan struct{}),
        done:         make(chan struct{}),
    }
    if s.initialDelay <= 0 {
        s.initialDelay = DefaultInitialDelay
    }
    if s.interval <= 0 {
        s.interval = DefaultInterval
    }
    return s
}

// Start launches the schedule in its own goroutine.
func (s *Scheduler) Start() {
    go s.run()
}

// Refocus requests an opportunistic check, e.g. when the embedding tab
// regains visibility.  The signal is dropped if one is already pending,
// so bursts of focus events produce a single extra check.
func (s *Scheduler) Refocus() {
    select {
    case s.refocus <- struct{}{}:
    default:
    }
}

// Stop tears the schedule down and waits for any in-flight check to
// finish, so no late verdict can be reported after Stop returns.
func (s *Scheduler) Stop() {
    s.stopOnce.Do(func() { close(s.stop) })
    <-s.done
}

func (s *Scheduler) run() {
    defer close(s.done)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // Delayed first check: a just-created session may not be readable
    // yet, and an immediate check would burn the grace window for nothing.
    first := time.NewTimer(s.initialDelay)
    defer first.Stop()
    select {
    case <-s.stop:
        return
    case <-first.C:
        s.report(s.check(ctx))
    case <-s.refocus:
        s.report(s.check(ctx))
    }

    ticker := time.NewTicker(s.interval)
    defer ticker.Stop()
    for {
        select {
        case <-s.stop:
            return
        case <-ticker.C:
            s.report(s.check(ctx))
        case <-s.refocus:
            s.report(s.check(ctx))
        }
    }
}
