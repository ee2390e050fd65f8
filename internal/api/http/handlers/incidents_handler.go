package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/incident-sync/internal/api/dto"
	"github.com/spec-kit/incident-sync/internal/auth"
	"github.com/spec-kit/incident-sync/internal/domain"
	"github.com/spec-kit/incident-sync/internal/repository"
	"github.com/spec-kit/incident-sync/internal/service"
	syncengine "github.com/spec-kit/incident-sync/internal/sync"
	apperrors "github.com/spec-kit/incident-sync/pkg/util/errorutil"
)

// IncidentsHandler manages incident lifecycle endpoints.
type IncidentsHandler struct {
	incidents *service.IncidentService
	engine    *syncengine.Engine
}

// NewIncidentsHandler constructs handler.
func NewIncidentsHandler(incidentService *service.IncidentService, engine *syncengine.Engine) *IncidentsHandler {
	return &IncidentsHandler{incidents: incidentService, engine: engine}
}

// Declare POST /incidents.
func (h *IncidentsHandler) Declare(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.DeclareIncidentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Title) == "" {
		return apperrors.NewValidationError("title required", nil)
	}

	incident, err := h.incidents.Declare(c.Context(), principal.User.ID, service.DeclareInput{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		Environment:  req.Environment,
		CustomFields: req.CustomFields,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": incidentSummary(incident)})
}

// List GET /incidents.
func (h *IncidentsHandler) List(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	incidents, err := h.incidents.List(c.Context(), parseIncidentQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.IncidentSummary, 0, len(incidents))
	for i := range incidents {
		items = append(items, incidentSummary(&incidents[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /incidents/:id.
func (h *IncidentsHandler) Get(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	incident, err := h.incidents.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	milestones, err := h.incidents.Timeline(c.Context(), incident.ID)
	if err != nil {
		return err
	}
	metrics, err := h.incidents.Metrics(c.Context(), incident.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": incidentDetail(incident, milestones, metrics)})
}

// Update PATCH /incidents/:id.
func (h *IncidentsHandler) Update(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.UpdateIncidentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.UpdateInput{
		Title:            req.Title,
		Description:      req.Description,
		Status:           req.Status,
		Priority:         req.Priority,
		Environment:      req.Environment,
		ClosureReason:    req.ClosureReason,
		ClosureReference: req.ClosureReference,
		Ignore:           req.Ignore,
		CustomFields:     req.CustomFields,
	}
	authorID := principal.User.ID
	milestone, err := h.incidents.RecordUpdate(c.Context(), c.Params("id"), input, req.Message, req.EventType, &authorID)
	if err != nil {
		if _, empty := err.(service.EmptyUpdateError); empty {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		return err
	}
	return c.JSON(fiber.Map{"data": milestoneResponse(milestone)})
}

// Close POST /incidents/:id/close.
func (h *IncidentsHandler) Close(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CloseIncidentRequest
	_ = c.BodyParser(&req)

	incident, blockers, err := h.incidents.Close(c.Context(), c.Params("id"), principal.User.ID, req.Message)
	if err != nil {
		return err
	}
	if incident == nil {
		return apperrors.NewClosureBlocked(blockers)
	}
	return c.JSON(fiber.Map{"data": incidentSummary(incident)})
}

// CanClose GET /incidents/:id/can-close.
func (h *IncidentsHandler) CanClose(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	ok, blockers, err := h.incidents.CanClose(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.CanCloseResponse{CanClose: ok, Blockers: blockers}})
}

// AssignRole POST /incidents/:id/roles.
func (h *IncidentsHandler) AssignRole(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.AssignRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Role == "" || req.UserID == "" {
		return apperrors.NewValidationError("role and user_id required", nil)
	}
	actorID := principal.User.ID
	if err := h.incidents.AssignRole(c.Context(), c.Params("id"), req.Role, req.UserID, &actorID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Resync POST /incidents/:id/resync.
func (h *IncidentsHandler) Resync(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	pushed := h.engine.Resync(c.Context(), c.Params("id"))
	return c.JSON(fiber.Map{"data": fiber.Map{"pushed": pushed}})
}

func parseIncidentQuery(c *fiber.Ctx) repository.IncidentFilter {
	filter := repository.IncidentFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.IncidentStatus(strings.TrimSpace(part)))
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			filter.Priorities = append(filter.Priorities, domain.IncidentPriority(strings.TrimSpace(part)))
		}
	}
	if env := c.Query("environment"); env != "" {
		filter.Environment = &env
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func incidentSummary(incident *domain.Incident) dto.IncidentSummary {
	return dto.IncidentSummary{
		ID:          incident.ID,
		Reference:   incident.Reference,
		Title:       incident.Title,
		Status:      incident.Status,
		Priority:    incident.Priority,
		Environment: incident.Environment,
		CreatedAt:   incident.CreatedAt,
		UpdatedAt:   incident.UpdatedAt,
		ClosedAt:    incident.ClosedAt,
	}
}

func incidentDetail(incident *domain.Incident, milestones []domain.Milestone, metrics []domain.IncidentMetric) dto.IncidentDetailResponse {
	milestoneItems := make([]dto.MilestoneResponse, 0, len(milestones))
	for i := range milestones {
		milestoneItems = append(milestoneItems, milestoneResponse(&milestones[i]))
	}
	metricItems := make([]dto.MetricResponse, 0, len(metrics))
	for _, metric := range metrics {
		metricItems = append(metricItems, dto.MetricResponse{
			Name:            metric.Name,
			DurationSeconds: metric.Duration.Seconds(),
		})
	}
	return dto.IncidentDetailResponse{
		IncidentSummary:  incidentSummary(incident),
		Description:      incident.Description,
		ClosureReason:    incident.ClosureReason,
		ClosureReference: incident.ClosureReference,
		Ignore:           incident.Ignore,
		CustomFields:     incident.CustomFields,
		Milestones:       milestoneItems,
		Metrics:          metricItems,
	}
}

func milestoneResponse(m *domain.Milestone) dto.MilestoneResponse {
	return dto.MilestoneResponse{
		ID:        m.ID,
		EventType: m.EventType,
		Status:    m.Status,
		Priority:  m.Priority,
		AuthorID:  m.AuthorID,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}
