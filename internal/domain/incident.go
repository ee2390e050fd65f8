package domain

import "time"

// IncidentStatus enumerates lifecycle states, ordered by increasing resolution.
type IncidentStatus string

const (
	StatusOpen             IncidentStatus = "OPEN"
	StatusInvestigating    IncidentStatus = "INVESTIGATING"
	StatusMitigating       IncidentStatus = "MITIGATING"
	StatusMitigated        IncidentStatus = "MITIGATED"
	StatusPostMortemReview IncidentStatus = "POST_MORTEM_REVIEW"
	StatusClosed           IncidentStatus = "CLOSED"
)

var statusOrdinals = map[IncidentStatus]int{
	StatusOpen:             10,
	StatusInvestigating:    20,
	StatusMitigating:       30,
	StatusMitigated:        40,
	StatusPostMortemReview: 50,
	StatusClosed:           60,
}

// Ordinal returns the explicit ordering value for the status, or 0 when unknown.
func (s IncidentStatus) Ordinal() int {
	return statusOrdinals[s]
}

// Valid reports whether the status is one of the known lifecycle states.
func (s IncidentStatus) Valid() bool {
	_, ok := statusOrdinals[s]
	return ok
}

// AtLeast reports whether the status has reached the given resolution level.
// Comparing through ordinals keeps status ordering explicit instead of relying
// on string comparison.
func (s IncidentStatus) AtLeast(other IncidentStatus) bool {
	return s.Ordinal() >= other.Ordinal()
}

// IncidentPriority enumerates urgency tiers. Lower weight means more urgent.
type IncidentPriority string

const (
	PriorityCritical IncidentPriority = "CRITICAL"
	PriorityHigh     IncidentPriority = "HIGH"
	PriorityMedium   IncidentPriority = "MEDIUM"
	PriorityLow      IncidentPriority = "LOW"
	PriorityMinimal  IncidentPriority = "MINIMAL"
)

var priorityWeights = map[IncidentPriority]int{
	PriorityCritical: 1,
	PriorityHigh:     2,
	PriorityMedium:   3,
	PriorityLow:      4,
	PriorityMinimal:  5,
}

// Weight returns the numeric urgency weight (1 = most urgent), or 0 when unknown.
func (p IncidentPriority) Weight() int {
	return priorityWeights[p]
}

// Valid reports whether the priority is a known tier.
func (p IncidentPriority) Valid() bool {
	_, ok := priorityWeights[p]
	return ok
}

// RequiresPostMortem reports whether incidents of this priority must pass
// post-mortem review before closing when they occurred in production.
func (p IncidentPriority) RequiresPostMortem() bool {
	w := p.Weight()
	return w > 0 && w <= 2
}

// PriorityForWeight resolves a numeric weight back to its priority tier.
func PriorityForWeight(weight int) (IncidentPriority, bool) {
	for p, w := range priorityWeights {
		if w == weight {
			return p, true
		}
	}
	return "", false
}

// EnvironmentProduction is the environment value that activates the
// post-mortem closure requirement.
const EnvironmentProduction = "production"

// CustomFields is an open string-keyed field map. A key that is absent was
// never tracked; a key present with a nil value was explicitly cleared. The
// distinction controls which fields propagate to the ticket system.
type CustomFields map[string]*string

// Incident is the aggregate for an operational incident. It is never hard
// deleted; its lifecycle ends at StatusClosed.
type Incident struct {
	ID               string
	Reference        string
	CreatorID        string
	Title            string
	Description      string
	Status           IncidentStatus
	Priority         IncidentPriority
	Environment      string
	ClosureReason    *string
	ClosureReference string
	Ignore           bool
	CustomFields     CustomFields
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}
