package model

import "time"

// User represents an application user record as stored in the
// `users` table.  Account creation and authentication live in a
// separate identity service; this service only reads user rows to
// resolve ownership and to stamp history entries with an actor id.
//
// Fields:
//  ID        – primary key identifier of the user.
//  Email     – unique email address.
//  Role      – name of the role (e.g. STUDENT or ADMIN).
//  IsActive  – whether the account is active.
//  CreatedAt – timestamp of creation.
//  UpdatedAt – timestamp of last update.
type User struct {
    ID        uint64    // users.id
    Email     string    // users.email
    Role      string    // users.role
    IsActive  bool      // users.is_active
    CreatedAt time.Time // users.created_at
    UpdatedAt time.Time // users.updated_at
}
