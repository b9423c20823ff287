// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// ledger, the session controller and handlers to distinguish between
// different failure scenarios. For example, ErrSessionNotFound lets the
// verifier fail closed while still granting the documented read-after-write
// grace window, and ErrServerNotFound maps to an HTTP 404.
package repository

import "errors"

// ErrSessionNotFound is returned when a session row cannot be found by id
// or when a user has no open session. The verifier treats this as an
// Invalid verdict unless the creation-grace window applies.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned when an operation that requires an open
// session row encounters one whose end_time is already set. Closing is a
// one-way transition, so callers must not retry.
var ErrSessionClosed = errors.New("session already closed")

// ErrServerNotFound is returned when the requested lab server does not
// exist. Handlers should translate this into an HTTP 404.
var ErrServerNotFound = errors.New("lab server not found")

// ErrProjectionNotFound is returned when no cached active-session
// projection exists for a user. This is a normal condition, not a fault:
// the projection is provisional by design and may simply have expired.
var ErrProjectionNotFound = errors.New("session projection not found")
