package model

import "time"

// LabServer describes one rentable remote lab machine.  Sessions
// reference a server by id; inactive servers remain listed for
// historical sessions but cannot be the target of a new start.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – human readable label shown in the catalogue.
//  Host      – address of the remote lab surface that gets embedded.
//  Port      – port of the remote lab surface.
//  IsActive  – whether new sessions may target this server.
//  CreatedAt – timestamp of creation.
//  UpdatedAt – timestamp of last update.
type LabServer struct {
    ID        uint64    // lab_servers.id
    Name      string    // lab_servers.name
    Host      string    // lab_servers.host
    Port      uint16    // lab_servers.port
    IsActive  bool      // lab_servers.is_active
    CreatedAt time.Time // lab_servers.created_at
    UpdatedAt time.Time // lab_servers.updated_at
}
