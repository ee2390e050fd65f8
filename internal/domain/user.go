package domain

import "time"

// UserStatus represents lifecycle states for a responder account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is a responder who can declare and work incidents. ExternalAccountID
// holds the matching identity in the ticket system, when known; it is what
// inbound assignee changes resolve against.
type User struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	Status            UserStatus
	ExternalAccountID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
