package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/iliyamo/remote-lab-rental/internal/model"
)

// ServerRepo provides data access to the lab_servers table.
type ServerRepo struct {
    db *sql.DB
}

// NewServerRepo returns a new ServerRepo bound to the provided database.
func NewServerRepo(db *sql.DB) *ServerRepo { return &ServerRepo{db: db} }

// GetByID fetches one lab server by id.  Returns ErrServerNotFound
// when no row exists.
func (r *ServerRepo) GetByID(ctx context.Context, id uint64) (*model.LabServer, error) {
    var s model.LabServer
    err := r.db.QueryRowContext(ctx,
        `SELECT id, name, host, port, is_active, created_at, updated_at
         FROM lab_servers WHERE id = ?`,
        id,
    ).Scan(&s.ID, &s.Name, &s.Host, &s.Port, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrServerNotFound
    }
    if err != nil {
        return nil, err
    }
    return &s, nil
}

// ListActive returns all lab servers that may be the target of a new
// session, ordered by name for stable catalogue rendering.
func (r *ServerRepo) ListActive(ctx context.Context) ([]model.LabServer, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, name, host, port, is_active, created_at, updated_at
         FROM lab_servers WHERE is_active = 1 ORDER BY name ASC`,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var servers []model.LabServer
    for rows.Next() {
        var s model.LabServer
        if err := rows.Scan(&s.ID, &s.Name, &s.Host, &s.Port, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
            return nil, err
        }
        servers = append(servers, s)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return servers, nil
}
