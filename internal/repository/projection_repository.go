package repository

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"
)

// SessionProjection is the client-facing cache of an active session.
// It is a convenience copy of server-held truth and must always be
// treated as provisional: the verifier, not this projection, decides
// whether access is actually authorized.  BalanceSecondsAtStart is the
// countdown budget captured when the interval opened; clients derive a
// remaining-seconds estimate from it without re-fetching the balance.
type SessionProjection struct {
    SessionID             string    `json:"session_id"`
    ServerID              uint64    `json:"server_id"`
    StartTime             time.Time `json:"start_time"`
    BalanceSecondsAtStart float64   `json:"balance_seconds_at_start"`
}

// ProjectionRepo stores the per-user active-session projection in
// Redis under a TTL slightly above the session staleness bound, so an
// abandoned projection disappears on its own even if the clear on end
// never happened.
type ProjectionRepo struct {
    rdb *redis.Client
    ttl time.Duration
}

// NewProjectionRepo returns a ProjectionRepo using the given client and
// expiry.  A nil client degrades every operation into a cache miss so
// the service keeps working without Redis.
func NewProjectionRepo(rdb *redis.Client, ttl time.Duration) *ProjectionRepo {
    return &ProjectionRepo{rdb: rdb, ttl: ttl}
}

func projectionKey(userID uint64) string {
    return fmt.Sprintf("session:active:%d", userID)
}

// Save caches the projection for a user, replacing any previous one.
func (r *ProjectionRepo) Save(ctx context.Context, userID uint64, p SessionProjection) error {
    if r.rdb == nil {
        return nil
    }
    body, err := json.Marshal(p)
    if err != nil {
        return err
    }
    return r.rdb.Set(ctx, projectionKey(userID), body, r.ttl).Err()
}

// Get returns the cached projection for a user, or
// ErrProjectionNotFound when none is cached (or Redis is unavailable).
func (r *ProjectionRepo) Get(ctx context.Context, userID uint64) (SessionProjection, error) {
    var p SessionProjection
    if r.rdb == nil {
        return p, ErrProjectionNotFound
    }
    body, err := r.rdb.Get(ctx, projectionKey(userID)).Bytes()
    if errors.Is(err, redis.Nil) {
        return p, ErrProjectionNotFound
    }
    if err != nil {
        return p, err
    }
    if err := json.Unmarshal(body, &p); err != nil {
        return p, err
    }
    return p, nil
}

// Clear removes the cached projection for a user.  Deleting a missing
// key is not an error.
func (r *ProjectionRepo) Clear(ctx context.Context, userID uint64) error {
    if r.rdb == nil {
        return nil
    }
    return r.rdb.Del(ctx, projectionKey(userID)).Err()
}
