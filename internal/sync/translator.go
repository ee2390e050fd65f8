package sync

import "github.com/spec-kit/incident-sync/internal/domain"

// Status vocabulary mapping between the ticket system and the incident
// lifecycle. The tables are fixed; unknown values are rejected, never
// defaulted.
var externalStatusTable = map[string]domain.IncidentStatus{
	"Open":        domain.StatusInvestigating,
	"To Do":       domain.StatusInvestigating,
	"In Progress": domain.StatusMitigating,
	"In Review":   domain.StatusMitigating,
	"Resolved":    domain.StatusMitigated,
	"Done":        domain.StatusMitigated,
	"Closed":      domain.StatusPostMortemReview,
	"Reopened":    domain.StatusInvestigating,
	"Blocked":     domain.StatusMitigating,
	"Waiting":     domain.StatusMitigating,
}

// transitionTable maps the current internal status to the workflow transition
// the ticket system must perform. Status never travels as a field patch.
var transitionTable = map[domain.IncidentStatus]string{
	domain.StatusOpen:             "Open",
	domain.StatusInvestigating:    "Open",
	domain.StatusMitigating:       "In Progress",
	domain.StatusMitigated:        "Resolved",
	domain.StatusPostMortemReview: "Closed",
	domain.StatusClosed:           "Closed",
}

// externalPriorityWeights maps ticket-system priority names to the internal
// numeric weight. The reverse table is derived by inversion, never maintained
// by hand.
var externalPriorityWeights = map[string]int{
	"Highest": 1,
	"High":    2,
	"Medium":  3,
	"Low":     4,
	"Lowest":  5,
}

var weightToExternalPriority = invertPriorityTable()

func invertPriorityTable() map[int]string {
	inverted := make(map[int]string, len(externalPriorityWeights))
	for name, weight := range externalPriorityWeights {
		inverted[weight] = name
	}
	return inverted
}

// InternalStatus translates a ticket-system status. ok is false for unknown
// values.
func InternalStatus(external string) (domain.IncidentStatus, bool) {
	status, ok := externalStatusTable[external]
	return status, ok
}

// InternalPriority translates a ticket-system priority name through its
// numeric weight. ok is false when the name is unknown or the weight has no
// configured priority tier.
func InternalPriority(external string) (domain.IncidentPriority, bool) {
	weight, ok := externalPriorityWeights[external]
	if !ok {
		return "", false
	}
	return domain.PriorityForWeight(weight)
}

// ExternalPriorityName translates an internal priority to the ticket-system
// name via the inverted weight table.
func ExternalPriorityName(priority domain.IncidentPriority) (string, bool) {
	weight := priority.Weight()
	if weight == 0 {
		return "", false
	}
	name, ok := weightToExternalPriority[weight]
	return name, ok
}

// TransitionFor returns the workflow transition target for the internal
// status.
func TransitionFor(status domain.IncidentStatus) (string, bool) {
	action, ok := transitionTable[status]
	return action, ok
}
