package dto

import (
	"time"

	"github.com/spec-kit/incident-sync/internal/domain"
	"github.com/spec-kit/incident-sync/internal/service"
)

// DeclareIncidentRequest payload.
type DeclareIncidentRequest struct {
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	Priority     domain.IncidentPriority `json:"priority"`
	Environment  string                  `json:"environment"`
	CustomFields domain.CustomFields     `json:"custom_fields"`
}

// UpdateIncidentRequest payload. Omitted fields stay untouched.
type UpdateIncidentRequest struct {
	Title            *string                  `json:"title"`
	Description      *string                  `json:"description"`
	Status           *domain.IncidentStatus   `json:"status"`
	Priority         *domain.IncidentPriority `json:"priority"`
	Environment      *string                  `json:"environment"`
	ClosureReason    *string                  `json:"closure_reason"`
	ClosureReference *string                  `json:"closure_reference"`
	Ignore           *bool                    `json:"ignore"`
	CustomFields     domain.CustomFields      `json:"custom_fields"`
	Message          string                   `json:"message"`
	EventType        *string                  `json:"event_type"`
}

// CloseIncidentRequest payload.
type CloseIncidentRequest struct {
	Message string `json:"message"`
}

// AssignRoleRequest payload.
type AssignRoleRequest struct {
	Role   domain.IncidentRole `json:"role"`
	UserID string              `json:"user_id"`
}

// IncidentSummary response.
type IncidentSummary struct {
	ID          string                  `json:"id"`
	Reference   string                  `json:"reference"`
	Title       string                  `json:"title"`
	Status      domain.IncidentStatus   `json:"status"`
	Priority    domain.IncidentPriority `json:"priority"`
	Environment string                  `json:"environment"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	ClosedAt    *time.Time              `json:"closed_at,omitempty"`
}

// IncidentDetailResponse provides full incident info.
type IncidentDetailResponse struct {
	IncidentSummary
	Description      string              `json:"description"`
	ClosureReason    *string             `json:"closure_reason"`
	ClosureReference string              `json:"closure_reference"`
	Ignore           bool                `json:"ignore"`
	CustomFields     domain.CustomFields `json:"custom_fields"`
	Milestones       []MilestoneResponse `json:"milestones"`
	Metrics          []MetricResponse    `json:"metrics"`
}

// MilestoneResponse represents one audit entry.
type MilestoneResponse struct {
	ID        string                  `json:"id"`
	EventType *string                 `json:"event_type"`
	Status    domain.IncidentStatus   `json:"status"`
	Priority  domain.IncidentPriority `json:"priority"`
	AuthorID  *string                 `json:"author_id"`
	Message   string                  `json:"message"`
	CreatedAt time.Time               `json:"created_at"`
}

// MetricResponse represents one stored duration metric.
type MetricResponse struct {
	Name            string  `json:"name"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CanCloseResponse reports closure eligibility with every blocker.
type CanCloseResponse struct {
	CanClose bool                     `json:"can_close"`
	Blockers []service.ClosureBlocker `json:"blockers"`
}
