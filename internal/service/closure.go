package service

import (
	"fmt"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// Closure blocker codes surfaced to callers.
const (
	BlockerStatusNotPostMortem = "STATUS_NOT_POST_MORTEM"
	BlockerStatusNotMitigated  = "STATUS_NOT_MITIGATED"
	BlockerMissingKeyEvents    = "MISSING_REQUIRED_KEY_EVENTS"
)

// ClosureBlocker is one reason an incident cannot be closed yet. The gate
// returns every failing reason so callers can show all blockers at once.
type ClosureBlocker struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EvaluateClosure decides whether the incident may enter Closed given its
// already-recorded milestones and the statically configured required event
// types. A set closure reason or the ignore flag bypasses the status policy
// entirely.
func EvaluateClosure(incident *domain.Incident, milestones []domain.Milestone, required []string) (bool, []ClosureBlocker) {
	blockers := []ClosureBlocker{}

	if incident.ClosureReason != nil || incident.Ignore {
		return true, blockers
	}

	if incident.Priority.RequiresPostMortem() && incident.Environment == domain.EnvironmentProduction {
		if incident.Status != domain.StatusPostMortemReview {
			blockers = append(blockers, ClosureBlocker{
				Code:    BlockerStatusNotPostMortem,
				Message: fmt.Sprintf("%s incidents in production must reach post-mortem review before closing", incident.Priority),
			})
		}
	} else if !incident.Status.AtLeast(domain.StatusMitigated) {
		blockers = append(blockers, ClosureBlocker{
			Code:    BlockerStatusNotMitigated,
			Message: "incident must be mitigated before closing",
		})
	}

	if missing := MissingMilestones(milestones, required); len(missing) > 0 {
		blockers = append(blockers, ClosureBlocker{
			Code:    BlockerMissingKeyEvents,
			Message: fmt.Sprintf("required key events not yet recorded: %v", missing),
		})
	}

	return len(blockers) == 0, blockers
}

// MissingMilestones returns the required event types that have no recorded
// milestone yet. Milestones without an event type are ignored.
func MissingMilestones(milestones []domain.Milestone, required []string) []string {
	recorded := make(map[string]struct{}, len(milestones))
	for _, m := range milestones {
		if m.EventType != nil {
			recorded[*m.EventType] = struct{}{}
		}
	}
	missing := []string{}
	for _, eventType := range required {
		if _, ok := recorded[eventType]; !ok {
			missing = append(missing, eventType)
		}
	}
	return missing
}
