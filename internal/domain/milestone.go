package domain

import "time"

// Well-known milestone event types. Free-form event types are allowed; these
// are the ones the service itself writes or that policy refers to.
const (
	EventTypeDeclared  = "declared"
	EventTypeDetected  = "detected"
	EventTypeRecovered = "recovered"
)

// Milestone is an immutable audit entry recorded against an incident. It
// captures the incident's status and priority at the time of writing and
// doubles as the input for duration metrics. A nil AuthorID marks a
// system-originated entry.
type Milestone struct {
	ID         string
	IncidentID string
	EventType  *string
	Status     IncidentStatus
	Priority   IncidentPriority
	AuthorID   *string
	Message    string
	CreatedAt  time.Time
}

// LatestByEventType picks the most recent milestone per event type from an
// already-loaded log. Entries without an event type are ignored.
func LatestByEventType(milestones []Milestone) map[string]Milestone {
	latest := make(map[string]Milestone)
	for _, m := range milestones {
		if m.EventType == nil {
			continue
		}
		current, ok := latest[*m.EventType]
		if !ok || m.CreatedAt.After(current.CreatedAt) {
			latest[*m.EventType] = m
		}
	}
	return latest
}
