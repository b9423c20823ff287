package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/remote-lab-rental/internal/model"
)

// SessionRepo provides data access to the sessions table.  Rows are
// created open (end_time NULL) and closed exactly once; Close refuses
// to touch a row that is already closed so a duplicate end cannot
// overwrite the recorded interval.  All timestamps are UTC.
type SessionRepo struct {
    db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the provided database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// Insert stores a new open session row.  The caller supplies the uuid
// id and start time; EndTime, DurationMinutes and DebitedAt must be nil.
func (r *SessionRepo) Insert(ctx context.Context, s *model.Session) error {
    _, err := r.db.ExecContext(ctx,
        `INSERT INTO sessions (id, user_id, server_id, start_time) VALUES (?, ?, ?, ?)`,
        s.ID, s.UserID, s.ServerID, s.StartTime.UTC(),
    )
    return err
}

// GetByID fetches a session row by its uuid.  Returns
// ErrSessionNotFound when no row exists.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
    row := r.db.QueryRowContext(ctx,
        `SELECT id, user_id, server_id, start_time, end_time, duration_minutes, debited_at, created_at
         FROM sessions WHERE id = ?`,
        id,
    )
    return scanSession(row)
}

// OpenByUser returns the user's single open session row, or
// ErrSessionNotFound when the user has no open session.  The protocol
// guarantees at most one open row per user; if more than one exists the
// most recently started wins and the rest are left for the staleness
// sweep to force-close.
func (r *SessionRepo) OpenByUser(ctx context.Context, userID uint64) (*model.Session, error) {
    row := r.db.QueryRowContext(ctx,
        `SELECT id, user_id, server_id, start_time, end_time, duration_minutes, debited_at, created_at
         FROM sessions
         WHERE user_id = ? AND end_time IS NULL
         ORDER BY start_time DESC
         LIMIT 1`,
        userID,
    )
    return scanSession(row)
}

// Close sets end_time and duration_minutes on an open row.  The
// end_time IS NULL guard makes the close idempotent at the storage
// level: a second close finds no open row and reports
// ErrSessionClosed instead of rewriting the interval.
func (r *SessionRepo) Close(ctx context.Context, id string, endTime time.Time, durationMinutes float64) error {
    res, err := r.db.ExecContext(ctx,
        `UPDATE sessions SET end_time = ?, duration_minutes = ?
         WHERE id = ? AND end_time IS NULL`,
        endTime.UTC(), durationMinutes, id,
    )
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        // Either the row does not exist or it is already closed.
        if _, getErr := r.GetByID(ctx, id); getErr != nil {
            return getErr
        }
        return ErrSessionClosed
    }
    return nil
}

// UndebitedClosedByUser lists the user's closed session rows whose
// minutes have not yet been charged against the time balance, oldest
// first.  The finalizing end sums these into a single deduction.
func (r *SessionRepo) UndebitedClosedByUser(ctx context.Context, userID uint64) ([]*model.Session, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, user_id, server_id, start_time, end_time, duration_minutes, debited_at, created_at
         FROM sessions
         WHERE user_id = ? AND end_time IS NOT NULL AND debited_at IS NULL
         ORDER BY start_time ASC`,
        userID,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var sessions []*model.Session
    for rows.Next() {
        s, err := scanSessionRows(rows)
        if err != nil {
            return nil, err
        }
        sessions = append(sessions, s)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return sessions, nil
}

// MarkDebited stamps debited_at on the given closed rows after their
// combined duration has been deducted from the balance.  Rows already
// stamped are left untouched so the sweep can never double-charge.
func (r *SessionRepo) MarkDebited(ctx context.Context, ids []string, at time.Time) error {
    if len(ids) == 0 {
        return nil
    }
    query := `UPDATE sessions SET debited_at = ? WHERE debited_at IS NULL AND id IN (`
    args := make([]interface{}, 0, len(ids)+1)
    args = append(args, at.UTC())
    for i, id := range ids {
        if i > 0 {
            query += ","
        }
        query += "?"
        args = append(args, id)
    }
    query += ")"
    _, err := r.db.ExecContext(ctx, query, args...)
    return err
}

// ForceClose closes a stale open row using its own start time plus the
// staleness bound as the end, so an abandoned session cannot accrue an
// unbounded duration.  Used by the verifier when it encounters an open
// session older than the staleness bound.  Closing an already closed
// row is a no-op.
func (r *SessionRepo) ForceClose(ctx context.Context, id string, bound time.Duration) error {
    s, err := r.GetByID(ctx, id)
    if err != nil {
        return err
    }
    if !s.Open() {
        return nil
    }
    endTime := s.StartTime.Add(bound)
    err = r.Close(ctx, id, endTime, bound.Minutes())
    if errors.Is(err, ErrSessionClosed) {
        // Lost a race with a concurrent close; the row is closed either way.
        return nil
    }
    return err
}

// scanSession scans a single row scanned via QueryRowContext, mapping
// sql.ErrNoRows onto the repository's sentinel.
func scanSession(row *sql.Row) (*model.Session, error) {
    var s model.Session
    err := row.Scan(&s.ID, &s.UserID, &s.ServerID, &s.StartTime, &s.EndTime, &s.DurationMinutes, &s.DebitedAt, &s.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrSessionNotFound
    }
    if err != nil {
        return nil, err
    }
    return &s, nil
}

// scanSessionRows scans the current row of an open *sql.Rows cursor.
func scanSessionRows(rows *sql.Rows) (*model.Session, error) {
    var s model.Session
    if err := rows.Scan(&s.ID, &s.UserID, &s.ServerID, &s.StartTime, &s.EndTime, &s.DurationMinutes, &s.DebitedAt, &s.CreatedAt); err != nil {
        return nil, err
    }
    return &s, nil
}
