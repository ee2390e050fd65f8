package domain

import "time"

// ExternalTicket links an incident to its counterpart in the external ticket
// system. An incident has at most one ticket; a ticket references exactly one
// incident once linked. Status and priority here are the external system's
// own vocabulary, mirrored as last observed.
type ExternalTicket struct {
	ExternalKey string
	IncidentID  string
	Status      string
	Priority    string
	ProjectKey  string
	Category    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
