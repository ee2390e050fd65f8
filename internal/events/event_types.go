package events

import (
	"time"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIncidentCreated EventType = "incident_created"
	EventIncidentUpdated EventType = "incident_updated"
	EventIncidentClosed  EventType = "incident_closed"
)

// Event represents a domain event emitted by services. A nil ActorID marks a
// system-originated event.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	IncidentID string      `json:"incident_id"`
	ActorID    *string     `json:"actor_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// IncidentCreatedPayload payload.
type IncidentCreatedPayload struct {
	Reference   string                  `json:"reference"`
	Title       string                  `json:"title"`
	Priority    domain.IncidentPriority `json:"priority"`
	Environment string                  `json:"environment"`
}

// IncidentUpdatedPayload payload. ChangedFields lists every field the update
// touched; the outbound sync listener projects from it.
type IncidentUpdatedPayload struct {
	ChangedFields []string              `json:"changed_fields"`
	NewStatus     domain.IncidentStatus `json:"new_status"`
}

// IncidentClosedPayload payload.
type IncidentClosedPayload struct {
	ClosureReason *string `json:"closure_reason,omitempty"`
}
