package domain

import "time"

// IncidentRole names a responsibility on an incident.
type IncidentRole string

const (
	RoleCommander IncidentRole = "COMMANDER"
	RoleReporter  IncidentRole = "REPORTER"
	RoleMember    IncidentRole = "MEMBER"
)

// Singleton reports whether at most one user may hold the role per incident.
// Assigning a singleton role replaces the previous holder.
func (r IncidentRole) Singleton() bool {
	return r != RoleMember
}

// RoleAssignment binds a user to a role on an incident.
type RoleAssignment struct {
	ID         string
	IncidentID string
	Role       IncidentRole
	UserID     string
	CreatedAt  time.Time
}
