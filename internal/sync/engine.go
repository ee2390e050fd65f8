package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/incident-sync/internal/domain"
	"github.com/spec-kit/incident-sync/internal/observability"
	"github.com/spec-kit/incident-sync/internal/repository"
)

const entityIncident = "incident"

// FieldDelta is one changed field extracted from a webhook payload.
type FieldDelta struct {
	Field    string
	NewValue any
}

// Engine keeps incidents and their external tickets eventually consistent
// without sync ping-pong. It runs synchronously at two call sites: inline
// after a state-machine mutation commits (outbound) and inside the webhook
// handler (inbound). Inbound writes bypass the state machine's business rules
// because they are system-originated, but still leave a milestone naming the
// external origin.
type Engine struct {
	incidents  repository.IncidentRepository
	tickets    repository.ExternalTicketRepository
	users      repository.UserRepository
	roles      repository.RoleRepository
	guard      LoopGuard
	client     TicketClient
	projectKey string
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// EngineDependencies bundles collaborators for the engine.
type EngineDependencies struct {
	IncidentRepo  repository.IncidentRepository
	TicketRepo    repository.ExternalTicketRepository
	UserRepo      repository.UserRepository
	RoleRepo      repository.RoleRepository
	Guard         LoopGuard
	Client        TicketClient
	ProjectKey    string
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

// NewEngine constructs the reconciliation engine.
func NewEngine(deps EngineDependencies) *Engine {
	return &Engine{
		incidents:  deps.IncidentRepo,
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		roles:      deps.RoleRepo,
		guard:      deps.Guard,
		client:     deps.Client,
		projectKey: deps.ProjectKey,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
}

// HandleInboundEvent dispatches webhook deltas for a ticket to their inbound
// handlers. An unknown ticket key is a logged no-op (expected for unrelated
// tickets). Individual handler failures do not stop the remaining deltas; the
// return value is true only when every delta applied.
func (e *Engine) HandleInboundEvent(ctx context.Context, ticketKey string, deltas []FieldDelta) bool {
	ticket, err := e.tickets.GetByKey(ctx, ticketKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			e.logger.Warn("webhook for unknown ticket key", zap.String("ticket_key", ticketKey))
		} else {
			e.logger.Warn("ticket lookup failed", zap.String("ticket_key", ticketKey), zap.Error(err))
		}
		return false
	}

	ok := true
	fields := map[string]any{}
	for _, delta := range deltas {
		switch delta.Field {
		case "status":
			value, valid := delta.NewValue.(string)
			if !valid {
				e.logger.Warn("non-string status delta", zap.String("ticket_key", ticketKey))
				ok = false
				continue
			}
			ok = e.ApplyTicketStatus(ctx, ticket, value) && ok
		case "priority":
			value, valid := delta.NewValue.(string)
			if !valid {
				e.logger.Warn("non-string priority delta", zap.String("ticket_key", ticketKey))
				ok = false
				continue
			}
			ok = e.ApplyTicketPriority(ctx, ticket, value) && ok
		case "summary":
			fields["title"] = delta.NewValue
		case "description":
			fields["description"] = delta.NewValue
		case "assignee":
			fields["assignee"] = delta.NewValue
		default:
			e.logger.Debug("ignoring unhandled webhook field",
				zap.String("ticket_key", ticketKey), zap.String("field", delta.Field))
		}
	}
	if len(fields) > 0 {
		ok = e.ApplyTicketFields(ctx, ticket, fields) && ok
	}
	return ok
}

// ApplyTicketStatus translates and applies an external status change. Unknown
// values fail closed without mutation. An already-equal status is a successful
// no-op; that short-circuit is what stops outbound-then-inbound echo loops, so
// it must run before any write.
func (e *Engine) ApplyTicketStatus(ctx context.Context, ticket *domain.ExternalTicket, newExternalStatus string) bool {
	if e.guard.Check(ctx, entityIncident, ticket.IncidentID, DirectionFromExternal) {
		e.metrics.RecordSync("inbound", "suppressed")
		return false
	}

	status, ok := InternalStatus(newExternalStatus)
	if !ok {
		e.logger.Warn("unknown external status",
			zap.String("ticket_key", ticket.ExternalKey), zap.String("status", newExternalStatus))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}

	incident, err := e.incidents.GetByID(ctx, ticket.IncidentID)
	if err != nil {
		e.logger.Warn("incident lookup failed",
			zap.String("incident_id", ticket.IncidentID), zap.Error(err))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}
	if incident.Status == status {
		e.metrics.RecordSync("inbound", "skipped")
		return true
	}

	incident.Status = status
	milestone := &domain.Milestone{
		IncidentID: incident.ID,
		Status:     incident.Status,
		Priority:   incident.Priority,
		Message:    fmt.Sprintf("status set to %s from ticket system (%s)", status, newExternalStatus),
	}
	if err := e.incidents.SaveWithMilestone(ctx, incident, milestone); err != nil {
		e.logger.Error("failed to apply external status",
			zap.String("incident_id", incident.ID), zap.Error(err))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}
	e.mirrorExternalState(ctx, ticket.ExternalKey, newExternalStatus, ticket.Priority)
	e.metrics.RecordSync("inbound", "applied")
	return true
}

// ApplyTicketPriority translates and applies an external priority change.
// Fails closed when the name is unknown or its weight maps to no priority.
func (e *Engine) ApplyTicketPriority(ctx context.Context, ticket *domain.ExternalTicket, newExternalPriority string) bool {
	if e.guard.Check(ctx, entityIncident, ticket.IncidentID, DirectionFromExternal) {
		e.metrics.RecordSync("inbound", "suppressed")
		return false
	}

	priority, ok := InternalPriority(newExternalPriority)
	if !ok {
		e.logger.Warn("unknown external priority",
			zap.String("ticket_key", ticket.ExternalKey), zap.String("priority", newExternalPriority))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}

	incident, err := e.incidents.GetByID(ctx, ticket.IncidentID)
	if err != nil {
		e.logger.Warn("incident lookup failed",
			zap.String("incident_id", ticket.IncidentID), zap.Error(err))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}
	if incident.Priority == priority {
		e.metrics.RecordSync("inbound", "skipped")
		return true
	}

	incident.Priority = priority
	milestone := &domain.Milestone{
		IncidentID: incident.ID,
		Status:     incident.Status,
		Priority:   incident.Priority,
		Message:    fmt.Sprintf("priority set to %s from ticket system (%s)", priority, newExternalPriority),
	}
	if err := e.incidents.SaveWithMilestone(ctx, incident, milestone); err != nil {
		e.logger.Error("failed to apply external priority",
			zap.String("incident_id", incident.ID), zap.Error(err))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}
	e.mirrorExternalState(ctx, ticket.ExternalKey, ticket.Status, newExternalPriority)
	e.metrics.RecordSync("inbound", "applied")
	return true
}

// ApplyTicketFields copies scalar fields (title, description) and resolves an
// assignee change to a commander role upsert, leaving other roles untouched.
// One combined milestone names only the fields whose value actually changed.
// Failures on one field are logged and skipped while the rest proceed.
func (e *Engine) ApplyTicketFields(ctx context.Context, ticket *domain.ExternalTicket, fields map[string]any) bool {
	if e.guard.Check(ctx, entityIncident, ticket.IncidentID, DirectionFromExternal) {
		e.metrics.RecordSync("inbound", "suppressed")
		return false
	}

	incident, err := e.incidents.GetByID(ctx, ticket.IncidentID)
	if err != nil {
		e.logger.Warn("incident lookup failed",
			zap.String("incident_id", ticket.IncidentID), zap.Error(err))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}

	ok := true
	changed := []string{}

	if raw, present := fields["title"]; present {
		if value, valid := raw.(string); valid && value != incident.Title {
			incident.Title = value
			changed = append(changed, "title")
		} else if !valid {
			e.logger.Warn("non-string title delta", zap.String("incident_id", incident.ID))
			ok = false
		}
	}
	if raw, present := fields["description"]; present {
		if value, valid := raw.(string); valid && value != incident.Description {
			incident.Description = value
			changed = append(changed, "description")
		} else if !valid {
			e.logger.Warn("non-string description delta", zap.String("incident_id", incident.ID))
			ok = false
		}
	}
	if raw, present := fields["assignee"]; present {
		if e.applyAssignee(ctx, incident, raw) {
			changed = append(changed, "assignee")
		} else {
			ok = false
		}
	}

	if len(changed) == 0 {
		e.metrics.RecordSync("inbound", "skipped")
		return ok
	}

	milestone := &domain.Milestone{
		IncidentID: incident.ID,
		Status:     incident.Status,
		Priority:   incident.Priority,
		Message:    "synced from ticket system: " + strings.Join(changed, ", "),
	}
	if err := e.incidents.SaveWithMilestone(ctx, incident, milestone); err != nil {
		e.logger.Error("failed to apply external fields",
			zap.String("incident_id", incident.ID), zap.Error(err))
		e.metrics.RecordSync("inbound", "failed")
		return false
	}
	e.metrics.RecordSync("inbound", "applied")
	return ok
}

// applyAssignee resolves an external account to an internal user and upserts
// the commander role.
func (e *Engine) applyAssignee(ctx context.Context, incident *domain.Incident, raw any) bool {
	accountID := ""
	switch value := raw.(type) {
	case string:
		accountID = value
	case map[string]any:
		if id, valid := value["accountId"].(string); valid {
			accountID = id
		}
	}
	if accountID == "" {
		e.logger.Warn("assignee delta without account id", zap.String("incident_id", incident.ID))
		return false
	}

	user, err := e.users.GetByExternalAccountID(ctx, accountID)
	if err != nil {
		e.logger.Warn("no internal user for external assignee",
			zap.String("incident_id", incident.ID), zap.String("account_id", accountID), zap.Error(err))
		return false
	}
	assignment := &domain.RoleAssignment{
		IncidentID: incident.ID,
		Role:       domain.RoleCommander,
		UserID:     user.ID,
	}
	if err := e.roles.Assign(ctx, assignment); err != nil {
		e.logger.Error("commander upsert failed",
			zap.String("incident_id", incident.ID), zap.Error(err))
		return false
	}
	return true
}

// PushIncidentChange projects changed fields onto the ticket system. The
// field-patch call and the transition call are independent: one failing does
// not roll back the other, and neither touches the incident transaction.
func (e *Engine) PushIncidentChange(ctx context.Context, incident *domain.Incident, changedFields []string) bool {
	if e.guard.Check(ctx, entityIncident, incident.ID, DirectionToExternal) {
		e.metrics.RecordSync("outbound", "suppressed")
		return false
	}

	ticket, err := e.tickets.GetByIncident(ctx, incident.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			e.logger.Debug("no linked ticket, nothing to push", zap.String("incident_id", incident.ID))
			return true
		}
		e.logger.Warn("ticket lookup failed", zap.String("incident_id", incident.ID), zap.Error(err))
		e.metrics.RecordSync("outbound", "failed")
		return false
	}

	patch := map[string]any{}
	pushStatus := false
	for _, field := range changedFields {
		switch field {
		case "title":
			patch["summary"] = incident.Title
		case "description":
			patch["description"] = incident.Description
		case "priority":
			if name, ok := ExternalPriorityName(incident.Priority); ok {
				patch["priority"] = map[string]any{"name": name}
			} else {
				e.logger.Warn("no external name for priority",
					zap.String("incident_id", incident.ID), zap.String("priority", string(incident.Priority)))
			}
		case "commander":
			if accountID, ok := e.commanderIdentity(ctx, incident.ID); ok {
				patch["assignee"] = map[string]any{"accountId": accountID}
			}
		case "status":
			// status travels as a workflow transition, never a field patch
			pushStatus = true
		}
	}

	ok := true
	if len(patch) > 0 {
		if err := e.client.UpdateFields(ctx, ticket.ExternalKey, patch); err != nil {
			e.logger.Error("field patch push failed",
				zap.String("incident_id", incident.ID),
				zap.String("ticket_key", ticket.ExternalKey), zap.Error(err))
			ok = false
		}
	}
	if pushStatus {
		action, found := TransitionFor(incident.Status)
		if !found {
			e.logger.Warn("no transition for status",
				zap.String("incident_id", incident.ID), zap.String("status", string(incident.Status)))
			ok = false
		} else if err := e.client.Transition(ctx, ticket.ExternalKey, action); err != nil {
			e.logger.Error("transition push failed",
				zap.String("incident_id", incident.ID),
				zap.String("ticket_key", ticket.ExternalKey), zap.Error(err))
			ok = false
		}
	}

	if ok {
		e.metrics.RecordSync("outbound", "applied")
	} else {
		e.metrics.RecordSync("outbound", "failed")
	}
	return ok
}

// EnsureTicket creates and links an external ticket for a newly declared
// incident when none exists yet.
func (e *Engine) EnsureTicket(ctx context.Context, incident *domain.Incident) bool {
	if _, err := e.tickets.GetByIncident(ctx, incident.ID); err == nil {
		return true
	} else if !errors.Is(err, pgx.ErrNoRows) {
		e.logger.Warn("ticket lookup failed", zap.String("incident_id", incident.ID), zap.Error(err))
		return false
	}

	if e.guard.Check(ctx, entityIncident, incident.ID, DirectionToExternal) {
		e.metrics.RecordSync("outbound", "suppressed")
		return false
	}

	priorityName, _ := ExternalPriorityName(incident.Priority)
	issue, err := e.client.CreateIssue(ctx, IssueCreate{
		ProjectKey:   e.projectKey,
		Summary:      incident.Title,
		Description:  incident.Description,
		PriorityName: priorityName,
	})
	if err != nil {
		e.logger.Error("ticket creation failed", zap.String("incident_id", incident.ID), zap.Error(err))
		e.metrics.RecordSync("outbound", "failed")
		return false
	}

	link := &domain.ExternalTicket{
		ExternalKey: issue.Key,
		IncidentID:  incident.ID,
		Status:      issue.Status,
		Priority:    issue.Priority,
		ProjectKey:  e.projectKey,
	}
	if err := e.tickets.Create(ctx, link); err != nil {
		e.logger.Error("ticket link persist failed",
			zap.String("incident_id", incident.ID), zap.String("ticket_key", issue.Key), zap.Error(err))
		e.metrics.RecordSync("outbound", "failed")
		return false
	}
	e.logger.Info("linked external ticket",
		zap.String("incident_id", incident.ID), zap.String("ticket_key", issue.Key))
	e.metrics.RecordSync("outbound", "applied")
	return true
}

// Resync re-pushes the full projectable state of an incident. It is the
// manual correction path for a previously missed push; there is no automatic
// retry queue.
func (e *Engine) Resync(ctx context.Context, incidentID string) bool {
	incident, err := e.incidents.GetByID(ctx, incidentID)
	if err != nil {
		e.logger.Warn("incident lookup failed", zap.String("incident_id", incidentID), zap.Error(err))
		return false
	}
	return e.PushIncidentChange(ctx, incident, []string{"title", "description", "priority", "commander", "status"})
}

func (e *Engine) commanderIdentity(ctx context.Context, incidentID string) (string, bool) {
	assignment, err := e.roles.GetByRole(ctx, incidentID, domain.RoleCommander)
	if err != nil {
		e.logger.Debug("no commander assigned", zap.String("incident_id", incidentID))
		return "", false
	}
	user, err := e.users.GetByID(ctx, assignment.UserID)
	if err != nil {
		e.logger.Warn("commander user lookup failed",
			zap.String("incident_id", incidentID), zap.Error(err))
		return "", false
	}
	accountID, err := e.client.ExternalIdentityFor(ctx, user)
	if err != nil {
		e.logger.Warn("no external identity for commander",
			zap.String("incident_id", incidentID), zap.String("user_id", user.ID), zap.Error(err))
		return "", false
	}
	return accountID, true
}

// mirrorExternalState records the ticket system's last observed vocabulary on
// the link row. Mirror failures are logged only; the incident write already
// committed.
func (e *Engine) mirrorExternalState(ctx context.Context, externalKey, status, priority string) {
	if err := e.tickets.UpdateExternalState(ctx, externalKey, status, priority); err != nil {
		e.logger.Warn("failed to mirror external state",
			zap.String("ticket_key", externalKey), zap.Error(err))
	}
}
