// Package gate is the security boundary around the embedded lab
// surface.  A Gate holds exactly one of two states, Locked or
// Unlocked, and decides transitions from verified session state alone:
// whatever the client believes about its own session never unlocks
// anything.  The state machine is independent of any rendering layer;
// the overlay a UI shows or removes is driven entirely by the change
// callback.
package gate

import "sync"

// State is the gate's decision for the embedded resource.
type State int

const (
    // Locked blocks interaction; the UI covers the resource with a
    // call-to-action overlay.
    Locked State = iota
    // Unlocked allows interaction with the embedded resource.
    Unlocked
)

// String returns a readable state name for logs and JSON responses.
func (s State) String() string {
    if s == Unlocked {
        return "unlocked"
    }
    return "locked"
}

// Gate tracks the two inputs that matter – has the embedded resource
// finished loading, and did the most recent verification pass – and
// derives the state from them.  It starts Locked and unlocks only when
// both inputs hold.  Transitions are edge-triggered: the change
// callback fires once per transition, so repeated lock events cannot
// stack duplicate overlays and leaving Unlocked always fully clears it.
type Gate struct {
    mu        sync.Mutex
    state     State
    loaded    bool
    lastValid bool
    onChange  func(State)
}

// New returns a Locked gate.  onChange, when non-nil, is invoked after
// every state transition with the new state; it is called outside the
// gate's lock, so callbacks may safely re-enter the gate.
func New(onChange func(State)) *Gate {
    return &Gate{state: Locked, onChange: onChange}
}

// State returns the current decision.
func (g *Gate) State() State {
    g.mu.Lock()
    defer g.mu.Unlock()
    return g.state
}

// Authorized reports whether the embedded resource is currently
// interactive.  This is the only signal exposed to the embed.
func (g *Gate) Authorized() bool { return g.State() == Unlocked }

// ResourceLoaded records that the embedded resource finished loading.
// Load state is a precondition for unlocking, never a trigger by
// itself: the latest verification verdict still has to be valid.
func (g *Gate) ResourceLoaded() {
    g.apply(func() { g.loaded = true })
}

// ResourceFailed records that the embedded resource failed to load (or
// was torn down, e.g. on a full-screen mode change).  Until the next
// load event there is nothing to unlock.
func (g *Gate) ResourceFailed() {
    g.apply(func() { g.loaded = false })
}

// Report feeds the gate the outcome of a verification.  An invalid
// verdict locks immediately regardless of any prior Unlocked state; a
// valid verdict unlocks only if the resource is also loaded.
func (g *Gate) Report(valid bool) {
    g.apply(func() { g.lastValid = valid })
}

// Reset forces the gate back to its initial Locked state, clearing
// both inputs.  Used when the session ends.
func (g *Gate) Reset() {
    g.apply(func() { g.loaded = false; g.lastValid = false })
}

// apply mutates the inputs, re-derives the state and fires the change
// callback when the state actually moved.
func (g *Gate) apply(mutate func()) {
    g.mu.Lock()
    mutate()
    next := Locked
    if g.loaded && g.lastValid {
        next = Unlocked
    }
    changed := next != g.state
    g.state = next
    cb := g.onChange
    g.mu.Unlock()
    if changed && cb != nil {
        cb(next)
    }
}
