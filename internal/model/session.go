package model

import "time"

// Session represents one tracked interval of lab occupancy bounded
// by a start and (eventually) an end time.  A row is created open
// (`end_time` NULL) and transitions to closed exactly once by
// setting EndTime and DurationMinutes; those columns are immutable
// afterwards.  A user has at most one open session at a time.
//
// Pausing closes the current row without debiting; resuming opens a
// fresh row, so one logical occupancy may span several rows.  The
// DebitedAt column marks which closed rows have already been charged
// against the time balance – the final end sweeps every closed,
// undebited row into a single deduction.
//
// Fields:
//  ID              – uuid primary key.
//  UserID          – user occupying the lab server.
//  ServerID        – lab server being accessed.
//  StartTime       – when this interval opened (UTC).
//  EndTime         – when it closed; nil while the interval is open.
//  DurationMinutes – closed interval length in minutes; nil while open.
//  DebitedAt       – when this interval's minutes were deducted from
//                    the balance; nil until the finalizing end.
//  CreatedAt       – row creation timestamp.
type Session struct {
    ID              string     // sessions.id (uuid)
    UserID          uint64     // sessions.user_id
    ServerID        uint64     // sessions.server_id
    StartTime       time.Time  // sessions.start_time
    EndTime         *time.Time // sessions.end_time (nullable)
    DurationMinutes *float64   // sessions.duration_minutes (nullable)
    DebitedAt       *time.Time // sessions.debited_at (nullable)
    CreatedAt       time.Time  // sessions.created_at
}

// Open reports whether the session interval is still running.
func (s *Session) Open() bool { return s.EndTime == nil }

// Debited reports whether this closed interval has been charged
// against the owner's time balance.
func (s *Session) Debited() bool { return s.DebitedAt != nil }
