// Package user holds the User entity shared by clients and readers: a
// stable identifier synced from the identity collaborator.
package user

import "time"

// Role is the access-control role of a user.
type Role string

const (
	RoleClient Role = "client"
	RoleReader Role = "reader"
	RoleAdmin  Role = "admin"
)

// Presence is the coarse reader availability exposed for listing and
// request-eligibility checks. Clients are always implicitly "n/a".
type Presence string

const (
	PresenceOffline   Presence = "offline"
	PresenceOnline    Presence = "online"
	PresenceBusy      Presence = "busy"
	PresenceInSession Presence = "in_session"
)

// User is the stable identity record. The identifier never changes once
// created; role changes are admin-only.
type User struct {
	ID          string
	ExternalSub string // opaque subject id from the identity collaborator
	Role        Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
