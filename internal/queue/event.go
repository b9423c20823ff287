// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names used by the publisher and the notification consumer.
const (
    SessionEndedQueue    = "session.ended"
    BalanceDepletedQueue = "balance.depleted"
    BalanceAdjustedQueue = "balance.adjusted"
)

// SessionEndedEvent is published when a lab session is finalized.  It
// carries enough information for downstream consumers to notify the
// user or feed analytics without querying the primary database.
type SessionEndedEvent struct {
    SessionID       string  `json:"session_id"`
    UserID          uint64  `json:"user_id"`
    ServerID        uint64  `json:"server_id"`
    DurationMinutes float64 `json:"duration_minutes"`
    HoursDebited    float64 `json:"hours_debited"`
    BalanceAfter    float64 `json:"balance_after"`
    EndedAt         string  `json:"ended_at"`
}

// BalanceDepletedEvent is published when a session end leaves the user
// with a zero balance, typically because the countdown expired.
type BalanceDepletedEvent struct {
    UserID     uint64 `json:"user_id"`
    SessionID  string `json:"session_id"`
    DepletedAt string `json:"depleted_at"`
}

// BalanceAdjustedEvent is published for manual admin credits and
// debits so the user can be notified of grants and corrections.
type BalanceAdjustedEvent struct {
    UserID        uint64  `json:"user_id"`
    AmountHours   float64 `json:"amount_hours"`
    BalanceAfter  float64 `json:"balance_after"`
    OperationType string  `json:"operation_type"`
    Notes         string  `json:"notes"`
    ActorID       uint64  `json:"actor_id"`
    AdjustedAt    string  `json:"adjusted_at"`
}
