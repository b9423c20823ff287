package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/remote-lab-rental/internal/model"
)

// BalanceRepo provides data access to the time_balances and
// time_balance_history tables.  All balance mutations flow through
// Apply, which serializes concurrent credits and debits on the same
// user with a row lock so that read-modify-write cycles cannot lose
// updates.  Timestamps are stored and compared in UTC.
type BalanceRepo struct {
    db *sql.DB
}

// NewBalanceRepo returns a new BalanceRepo bound to the provided database.
func NewBalanceRepo(db *sql.DB) *BalanceRepo { return &BalanceRepo{db: db} }

// DB exposes the underlying database handle so callers can open
// transactions that span multiple repositories.
func (r *BalanceRepo) DB() *sql.DB { return r.db }

// GetOrCreate fetches the current balance for a user, creating a zero
// row if none exists yet.  The INSERT ... ON DUPLICATE KEY form makes
// the bootstrap idempotent even when two first-time reads race.
func (r *BalanceRepo) GetOrCreate(ctx context.Context, userID uint64) (float64, error) {
    // Ensure the row exists.  user_id is the primary key, so a concurrent
    // bootstrap degrades into a no-op update of the same zero value.
    if _, err := r.db.ExecContext(ctx,
        `INSERT INTO time_balances (user_id, balance_hours) VALUES (?, 0)
         ON DUPLICATE KEY UPDATE user_id = user_id`,
        userID,
    ); err != nil {
        return 0, err
    }
    var hours float64
    err := r.db.QueryRowContext(ctx,
        `SELECT balance_hours FROM time_balances WHERE user_id = ?`,
        userID,
    ).Scan(&hours)
    if err != nil {
        return 0, err
    }
    return hours, nil
}

// Apply runs fn against the user's current balance while holding an
// exclusive row lock, then persists the balance fn returns and appends
// the history entry fn built, all inside a single transaction.  The
// read, the computation, the balance write and the history write are
// therefore one logical unit: a concurrent credit or debit on the same
// user blocks on the row lock instead of losing the update.
//
// fn receives the locked current balance and must return the new
// balance and a fully populated history entry (UserID, AmountHours,
// BalanceAfter, OperationType, Notes, CreatedBy).  If fn returns an
// error the transaction is rolled back and nothing is written.  The
// committed new balance is returned.
func (r *BalanceRepo) Apply(ctx context.Context, userID uint64, fn func(current float64) (float64, model.TimeBalanceHistoryEntry, error)) (float64, error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return 0, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    // Bootstrap the row inside the transaction so the subsequent lock
    // always has something to grab.
    if _, err = tx.ExecContext(ctx,
        `INSERT INTO time_balances (user_id, balance_hours) VALUES (?, 0)
         ON DUPLICATE KEY UPDATE user_id = user_id`,
        userID,
    ); err != nil {
        return 0, err
    }

    // Lock the balance row for the duration of the transaction.
    var current float64
    if err = tx.QueryRowContext(ctx,
        `SELECT balance_hours FROM time_balances WHERE user_id = ? FOR UPDATE`,
        userID,
    ).Scan(&current); err != nil {
        return 0, err
    }

    newBalance, entry, err := fn(current)
    if err != nil {
        return 0, err
    }

    if _, err = tx.ExecContext(ctx,
        `UPDATE time_balances SET balance_hours = ?, updated_at = ? WHERE user_id = ?`,
        newBalance, time.Now().UTC(), userID,
    ); err != nil {
        return 0, err
    }
    if _, err = tx.ExecContext(ctx,
        `INSERT INTO time_balance_history
            (user_id, amount_hours, balance_after, operation_type, notes, created_by)
         VALUES (?, ?, ?, ?, ?, ?)`,
        entry.UserID, entry.AmountHours, entry.BalanceAfter, entry.OperationType, entry.Notes, entry.CreatedBy,
    ); err != nil {
        return 0, err
    }

    if err = tx.Commit(); err != nil {
        return 0, err
    }
    committed = true
    return newBalance, nil
}

// History returns the audit entries for a user ordered newest first.
// Entries are never mutated, so no locking is required here.
func (r *BalanceRepo) History(ctx context.Context, userID uint64) ([]model.TimeBalanceHistoryEntry, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, user_id, amount_hours, balance_after, operation_type, notes, created_by, created_at
         FROM time_balance_history
         WHERE user_id = ?
         ORDER BY created_at DESC, id DESC`,
        userID,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var entries []model.TimeBalanceHistoryEntry
    for rows.Next() {
        var e model.TimeBalanceHistoryEntry
        if err := rows.Scan(&e.ID, &e.UserID, &e.AmountHours, &e.BalanceAfter, &e.OperationType, &e.Notes, &e.CreatedBy, &e.CreatedAt); err != nil {
            return nil, err
        }
        entries = append(entries, e)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return entries, nil
}
