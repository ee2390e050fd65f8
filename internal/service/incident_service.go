package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/incident-sync/internal/config"
	"github.com/spec-kit/incident-sync/internal/domain"
	"github.com/spec-kit/incident-sync/internal/events"
	"github.com/spec-kit/incident-sync/internal/repository"
)

// EmptyUpdateError signals an update request with neither field changes nor a
// message. Nothing is mutated when it is returned.
type EmptyUpdateError struct{}

func (EmptyUpdateError) Error() string {
	return "update has no field changes and no message"
}

// IncidentService owns the incident lifecycle: declaration, updates, closure
// eligibility and metric computation.
type IncidentService struct {
	incidents  repository.IncidentRepository
	milestones repository.MilestoneRepository
	roles      repository.RoleRepository
	metrics    repository.MetricRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.IncidentConfig
}

// IncidentDependencies bundles collaborators for the service.
type IncidentDependencies struct {
	IncidentRepo  repository.IncidentRepository
	MilestoneRepo repository.MilestoneRepository
	RoleRepo      repository.RoleRepository
	MetricRepo    repository.MetricRepository
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
}

// NewIncidentService constructs the service.
func NewIncidentService(cfg config.IncidentConfig, deps IncidentDependencies) *IncidentService {
	return &IncidentService{
		incidents:  deps.IncidentRepo,
		milestones: deps.MilestoneRepo,
		roles:      deps.RoleRepo,
		metrics:    deps.MetricRepo,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// DeclareInput describes incident declaration payload.
type DeclareInput struct {
	Title        string
	Description  string
	Priority     domain.IncidentPriority
	Environment  string
	CustomFields domain.CustomFields
}

// UpdateInput carries optional field changes for RecordUpdate. Nil pointers
// leave the field untouched. CustomFields entries merge into the incident's
// map: a nil value clears the key while keeping it tracked.
type UpdateInput struct {
	Title            *string
	Description      *string
	Status           *domain.IncidentStatus
	Priority         *domain.IncidentPriority
	Environment      *string
	ClosureReason    *string
	ClosureReference *string
	Ignore           *bool
	CustomFields     domain.CustomFields
}

// Empty reports whether the input changes nothing.
func (in UpdateInput) Empty() bool {
	return in.Title == nil && in.Description == nil && in.Status == nil &&
		in.Priority == nil && in.Environment == nil && in.ClosureReason == nil &&
		in.ClosureReference == nil && in.Ignore == nil && len(in.CustomFields) == 0
}

// Declare atomically creates the incident, assigns the creator as commander,
// reporter and member, writes the "declared" milestone plus a baseline entry
// mirroring the initial field values, and raises incident_created.
func (s *IncidentService) Declare(ctx context.Context, creatorID string, input DeclareInput) (*domain.Incident, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("title required")
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q", input.Priority)
	}

	incident := &domain.Incident{
		Reference:    generateReference(),
		CreatorID:    creatorID,
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Status:       domain.StatusOpen,
		Priority:     priority,
		Environment:  input.Environment,
		CustomFields: input.CustomFields,
	}

	roles := []domain.RoleAssignment{
		{Role: domain.RoleCommander, UserID: creatorID},
		{Role: domain.RoleReporter, UserID: creatorID},
		{Role: domain.RoleMember, UserID: creatorID},
	}

	declared := domain.EventTypeDeclared
	milestones := []*domain.Milestone{
		{
			EventType: &declared,
			Status:    incident.Status,
			Priority:  incident.Priority,
			AuthorID:  &creatorID,
			Message:   "incident declared",
		},
		{
			Status:   incident.Status,
			Priority: incident.Priority,
			AuthorID: &creatorID,
			Message: fmt.Sprintf("initial state: status=%s priority=%s environment=%s",
				incident.Status, incident.Priority, incident.Environment),
		},
	}

	if err := s.incidents.CreateWithSetup(ctx, incident, roles, milestones); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:       events.EventIncidentCreated,
		IncidentID: incident.ID,
		ActorID:    &creatorID,
		Payload: events.IncidentCreatedPayload{
			Reference:   incident.Reference,
			Title:       incident.Title,
			Priority:    incident.Priority,
			Environment: incident.Environment,
		},
	})
	return incident, nil
}

// RecordUpdate persists field changes and appends an immutable milestone in
// one transaction. Both changed fields and message empty is a validation
// failure and mutates nothing. Reaching Mitigated additionally upserts the
// synthetic "recovered" milestone and recomputes metrics.
func (s *IncidentService) RecordUpdate(ctx context.Context, incidentID string, input UpdateInput, message string, eventType *string, authorID *string) (*domain.Milestone, error) {
	message = strings.TrimSpace(message)
	if input.Empty() && message == "" {
		return nil, EmptyUpdateError{}
	}

	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", *input.Status)
	}
	if input.Priority != nil && !input.Priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q", *input.Priority)
	}

	previousStatus := incident.Status
	changed := applyChanges(incident, input)
	if len(changed) == 0 && message == "" {
		return nil, EmptyUpdateError{}
	}

	becameClosed := incident.Status == domain.StatusClosed && previousStatus != domain.StatusClosed
	if becameClosed {
		now := time.Now()
		incident.ClosedAt = &now
	}

	milestone := &domain.Milestone{
		IncidentID: incident.ID,
		EventType:  eventType,
		Status:     incident.Status,
		Priority:   incident.Priority,
		AuthorID:   authorID,
		Message:    updateMessage(message, changed),
	}
	if err := s.incidents.SaveWithMilestone(ctx, incident, milestone); err != nil {
		return nil, err
	}

	if incident.Status == domain.StatusMitigated && previousStatus != domain.StatusMitigated {
		recovered := domain.EventTypeRecovered
		synthetic := &domain.Milestone{
			IncidentID: incident.ID,
			EventType:  &recovered,
			Status:     incident.Status,
			Priority:   incident.Priority,
			AuthorID:   authorID,
			Message:    "incident recovered",
			CreatedAt:  milestone.CreatedAt,
		}
		if err := s.milestones.UpsertByEventType(ctx, synthetic); err != nil {
			s.logger.Warn("failed to upsert recovered milestone",
				zap.String("incident_id", incident.ID), zap.Error(err))
		}
		if err := s.ComputeMetrics(ctx, incident, false); err != nil {
			s.logger.Warn("metric recomputation failed",
				zap.String("incident_id", incident.ID), zap.Error(err))
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:       events.EventIncidentUpdated,
		IncidentID: incident.ID,
		ActorID:    authorID,
		Payload: events.IncidentUpdatedPayload{
			ChangedFields: changed,
			NewStatus:     incident.Status,
		},
	})
	if becameClosed {
		s.publishEvent(ctx, events.Event{
			Type:       events.EventIncidentClosed,
			IncidentID: incident.ID,
			ActorID:    authorID,
			Payload:    events.IncidentClosedPayload{ClosureReason: incident.ClosureReason},
		})
	}
	return milestone, nil
}

// CanClose evaluates the closure gate, returning every outstanding blocker.
func (s *IncidentService) CanClose(ctx context.Context, incidentID string) (bool, []ClosureBlocker, error) {
	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return false, nil, err
	}
	milestones, err := s.milestones.ListByIncident(ctx, incidentID)
	if err != nil {
		return false, nil, err
	}
	ok, blockers := EvaluateClosure(incident, milestones, s.cfg.RequiredMilestones)
	return ok, blockers, nil
}

// Close moves the incident to Closed when the gate passes. On refusal the
// blocker list is returned alongside a nil incident.
func (s *IncidentService) Close(ctx context.Context, incidentID, authorID, message string) (*domain.Incident, []ClosureBlocker, error) {
	ok, blockers, err := s.CanClose(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, blockers, nil
	}
	closed := domain.StatusClosed
	if message == "" {
		message = "incident closed"
	}
	if _, err := s.RecordUpdate(ctx, incidentID, UpdateInput{Status: &closed}, message, nil, &authorID); err != nil {
		return nil, nil, err
	}
	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	return incident, nil, nil
}

// AssignRole binds a user to an incident role and records the change.
// Singleton roles replace their previous holder.
func (s *IncidentService) AssignRole(ctx context.Context, incidentID string, role domain.IncidentRole, userID string, actorID *string) error {
	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return err
	}
	assignment := &domain.RoleAssignment{IncidentID: incident.ID, Role: role, UserID: userID}
	if err := s.roles.Assign(ctx, assignment); err != nil {
		return err
	}
	milestone := &domain.Milestone{
		IncidentID: incident.ID,
		Status:     incident.Status,
		Priority:   incident.Priority,
		AuthorID:   actorID,
		Message:    fmt.Sprintf("role %s assigned to %s", role, userID),
	}
	if err := s.milestones.Create(ctx, milestone); err != nil {
		return err
	}
	s.publishEvent(ctx, events.Event{
		Type:       events.EventIncidentUpdated,
		IncidentID: incident.ID,
		ActorID:    actorID,
		Payload: events.IncidentUpdatedPayload{
			ChangedFields: []string{roleFieldName(role)},
			NewStatus:     incident.Status,
		},
	})
	return nil
}

// ComputeMetrics evaluates every configured metric definition against the
// incident's milestone log. A missing operand skips the metric; a negative
// duration is a data-quality problem that is logged and never stored. With
// purge set, skipped metrics also delete any previously stored value.
func (s *IncidentService) ComputeMetrics(ctx context.Context, incident *domain.Incident, purge bool) error {
	milestones, err := s.milestones.ListByIncident(ctx, incident.ID)
	if err != nil {
		return err
	}
	latest := domain.LatestByEventType(milestones)

	for _, def := range s.cfg.MetricDefinitions {
		lhs, lhsOK := latest[def.LHSEvent]
		rhs, rhsOK := latest[def.RHSEvent]
		if !lhsOK || !rhsOK {
			if purge {
				if err := s.metrics.Delete(ctx, incident.ID, def.Name); err != nil {
					return err
				}
			}
			continue
		}
		duration := lhs.CreatedAt.Sub(rhs.CreatedAt)
		if duration < 0 {
			s.logger.Warn("negative metric duration, skipping",
				zap.String("incident_id", incident.ID),
				zap.String("metric", def.Name),
				zap.Duration("duration", duration))
			if purge {
				if err := s.metrics.Delete(ctx, incident.ID, def.Name); err != nil {
					return err
				}
			}
			continue
		}
		metric := &domain.IncidentMetric{
			IncidentID: incident.ID,
			Name:       def.Name,
			Duration:   duration,
		}
		if err := s.metrics.Upsert(ctx, metric); err != nil {
			return err
		}
	}
	return nil
}

// GetByID fetches an incident.
func (s *IncidentService) GetByID(ctx context.Context, incidentID string) (*domain.Incident, error) {
	return s.incidents.GetByID(ctx, incidentID)
}

// Timeline returns the milestone log for an incident.
func (s *IncidentService) Timeline(ctx context.Context, incidentID string) ([]domain.Milestone, error) {
	return s.milestones.ListByIncident(ctx, incidentID)
}

// Metrics returns stored metrics for an incident.
func (s *IncidentService) Metrics(ctx context.Context, incidentID string) ([]domain.IncidentMetric, error) {
	return s.metrics.ListByIncident(ctx, incidentID)
}

// List returns incidents matching the filter.
func (s *IncidentService) List(ctx context.Context, filter repository.IncidentFilter) ([]domain.Incident, error) {
	return s.incidents.ListWithFilter(ctx, filter)
}

func applyChanges(incident *domain.Incident, input UpdateInput) []string {
	changed := []string{}
	if input.Title != nil && *input.Title != incident.Title {
		incident.Title = *input.Title
		changed = append(changed, "title")
	}
	if input.Description != nil && *input.Description != incident.Description {
		incident.Description = *input.Description
		changed = append(changed, "description")
	}
	if input.Status != nil && *input.Status != incident.Status {
		incident.Status = *input.Status
		changed = append(changed, "status")
	}
	if input.Priority != nil && *input.Priority != incident.Priority {
		incident.Priority = *input.Priority
		changed = append(changed, "priority")
	}
	if input.Environment != nil && *input.Environment != incident.Environment {
		incident.Environment = *input.Environment
		changed = append(changed, "environment")
	}
	if input.ClosureReason != nil {
		if incident.ClosureReason == nil || *incident.ClosureReason != *input.ClosureReason {
			reason := *input.ClosureReason
			incident.ClosureReason = &reason
			changed = append(changed, "closure_reason")
		}
	}
	if input.ClosureReference != nil && *input.ClosureReference != incident.ClosureReference {
		incident.ClosureReference = *input.ClosureReference
		changed = append(changed, "closure_reference")
	}
	if input.Ignore != nil && *input.Ignore != incident.Ignore {
		incident.Ignore = *input.Ignore
		changed = append(changed, "ignore")
	}
	if len(input.CustomFields) > 0 {
		if incident.CustomFields == nil {
			incident.CustomFields = domain.CustomFields{}
		}
		fieldsChanged := false
		for key, value := range input.CustomFields {
			current, present := incident.CustomFields[key]
			if present && equalNullable(current, value) {
				continue
			}
			incident.CustomFields[key] = value
			fieldsChanged = true
		}
		if fieldsChanged {
			changed = append(changed, "custom_fields")
		}
	}
	return changed
}

func equalNullable(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func updateMessage(message string, changed []string) string {
	if message != "" {
		return message
	}
	sorted := append([]string{}, changed...)
	sort.Strings(sorted)
	return "updated " + strings.Join(sorted, ", ")
}

func roleFieldName(role domain.IncidentRole) string {
	return strings.ToLower(string(role))
}

func generateReference() string {
	return "INC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *IncidentService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
