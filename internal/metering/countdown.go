// Package metering implements the per-session countdown.  A Countdown
// is an explicitly owned timer handle: the session controller creates
// one when a session interval opens and stops it synchronously on every
// transition out of the active state, so no module-level timer can leak
// across sessions.
package metering

import (
    "sync"
    "time"
)

// DefaultInterval is the cooperative tick period.
const DefaultInterval = time.Second

// Config describes one countdown.  Budget is the balance, in wall
// time, captured when the session interval opened; it stays fixed for
// the life of the countdown and is never re-fetched per tick.
type Config struct {
    // Budget is the total time available to the session at start.
    Budget time.Duration
    // StartedAt is the session interval's start time.
    StartedAt time.Time
    // Interval overrides the tick period (DefaultInterval when zero).
    Interval time.Duration
    // Now overrides the wall clock (time.Now when nil).  Tests inject a
    // fake clock here.
    Now func() time.Time
    // OnExpire fires exactly once when the remaining time reaches zero.
    OnExpire func()
    // OnTick, when set, observes the remaining time on every tick.
    OnTick func(remaining time.Duration)
}

// Countdown derives "remaining" from the wall clock on every tick:
// remaining = max(0, budget - (now - startedAt)).  Because nothing is
// accumulated across ticks, a suspended process or a burst of missed
// ticks cannot overcount; the next tick lands on the correct value.
type Countdown struct {
    budget    time.Duration
    startedAt time.Time
    interval  time.Duration
    now       func() time.Time
    onExpire  func()
    onTick    func(remaining time.Duration)

    mu      sync.Mutex
    stopped bool
    fired   bool

    stopOnce sync.Once
    stop     chan struct{}
    done     chan struct{}
}

// New builds a Countdown from cfg.  Start must be called to begin
// ticking.
func New(cfg Config) *Countdown {
    c := &Countdown{
        budget:    cfg.Budget,
        startedAt: cfg.StartedAt,
        interval:  cfg.Interval,
        now:       cfg.Now,
        onExpire:  cfg.OnExpire,
        onTick:    cfg.OnTick,
        stop:      make(chan struct{}),
        done:      make(chan struct{}),
    }
    if c.interval <= 0 {
        c.interval = DefaultInterval
    }
    if c.now == nil {
        c.now = time.Now
    }
    return c
}

// Remaining returns the time left on the budget, floored at zero.
func (c *Countdown) Remaining() time.Duration {
    elapsed := c.now().Sub(c.startedAt)
    if elapsed >= c.budget {
        return 0
    }
    return c.budget - elapsed
}

// Expired reports whether the expiry callback has been triggered.
func (c *Countdown) Expired() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.fired
}

// Start launches the tick loop in its own goroutine.
func (c *Countdown) Start() {
    go c.run()
}

// Stop tears the countdown down.  After Stop returns the expiry
// callback will not fire, unless it had already begun firing before
// Stop was called (the self-expiry path, where Stop is reached from
// inside the callback itself and must not wait for the loop).
func (c *Countdown) Stop() {
    c.mu.Lock()
    c.stopped = true
    fired := c.fired
    c.mu.Unlock()
    c.stopOnce.Do(func() { close(c.stop) })
    if fired {
        return
    }
    <-c.done
}

func (c *Countdown) run() {
    defer close(c.done)
    ticker := time.NewTicker(c.interval)
    defer ticker.Stop()
    for {
        select {
        case <-c.stop:
            return
        case <-ticker.C:
            if c.step() {
                return
            }
        }
    }
}

// step performs one tick: it recomputes the remaining time from the
// wall clock and, at zero, fires the expiry callback under a guard that
// permits at most one firing per countdown.  It returns true when the
// loop should exit.
func (c *Countdown) step() bool {
    remaining := c.Remaining()
    c.mu.Lock()
    if c.stopped || c.fired {
        c.mu.Unlock()
        return true
    }
    if remaining > 0 {
        tick := c.onTick
        c.mu.Unlock()
        if tick != nil {
            tick(remaining)
        }
        return false
    }
    c.fired = true
    c.mu.Unlock()
    if c.onExpire != nil {
        c.onExpire()
    }
    return true
}
