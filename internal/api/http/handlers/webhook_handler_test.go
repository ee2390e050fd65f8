package handlers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/incident-sync/internal/api/http"
	"github.com/spec-kit/incident-sync/internal/api/http/handlers"
	"github.com/spec-kit/incident-sync/internal/domain"
	"github.com/spec-kit/incident-sync/internal/observability"
	"github.com/spec-kit/incident-sync/internal/repository"
	syncengine "github.com/spec-kit/incident-sync/internal/sync"
)

type stubTicketRepo struct {
	ticket *domain.ExternalTicket
}

func (r *stubTicketRepo) Create(ctx context.Context, ticket *domain.ExternalTicket) error {
	return nil
}

func (r *stubTicketRepo) GetByKey(ctx context.Context, externalKey string) (*domain.ExternalTicket, error) {
	if r.ticket != nil && r.ticket.ExternalKey == externalKey {
		return r.ticket, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *stubTicketRepo) GetByIncident(ctx context.Context, incidentID string) (*domain.ExternalTicket, error) {
	return nil, pgx.ErrNoRows
}

func (r *stubTicketRepo) UpdateExternalState(ctx context.Context, externalKey, status, priority string) error {
	return nil
}

type stubIncidentRepo struct {
	incident *domain.Incident
	saves    int
}

func (r *stubIncidentRepo) CreateWithSetup(ctx context.Context, incident *domain.Incident, roles []domain.RoleAssignment, milestones []*domain.Milestone) error {
	return nil
}

func (r *stubIncidentRepo) SaveWithMilestone(ctx context.Context, incident *domain.Incident, milestone *domain.Milestone) error {
	copied := *incident
	r.incident = &copied
	r.saves++
	return nil
}

func (r *stubIncidentRepo) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	if r.incident == nil || r.incident.ID != id {
		return nil, pgx.ErrNoRows
	}
	copied := *r.incident
	return &copied, nil
}

func (r *stubIncidentRepo) GetByReference(ctx context.Context, reference string) (*domain.Incident, error) {
	return nil, pgx.ErrNoRows
}

func (r *stubIncidentRepo) ListWithFilter(ctx context.Context, filter repository.IncidentFilter) ([]domain.Incident, error) {
	return nil, nil
}

func newWebhookApp(t *testing.T, secret string) (*fiber.App, *stubIncidentRepo) {
	t.Helper()
	incidents := &stubIncidentRepo{incident: &domain.Incident{
		ID:       "inc-1",
		Title:    "checkout latency",
		Status:   domain.StatusOpen,
		Priority: domain.PriorityMedium,
	}}
	tickets := &stubTicketRepo{ticket: &domain.ExternalTicket{
		ExternalKey: "OPS-42",
		IncidentID:  "inc-1",
	}}
	engine := syncengine.NewEngine(syncengine.EngineDependencies{
		IncidentRepo: incidents,
		TicketRepo:   tickets,
		Guard:        syncengine.NewMemoryLoopGuard(0, nil),
		Client:       nil,
		Logger:       zap.NewNop(),
		Metrics:      observability.NewMetrics(),
	})

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	handler := handlers.NewWebhookHandler(engine, secret, zap.NewNop())
	app.Post("/webhooks/ticket", handler.Handle)
	return app, incidents
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, signature string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/ticket", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set("X-Ticket-Signature", signature)
	}
	resp, err := app.Test(req, int(5*time.Second/time.Millisecond))
	require.NoError(t, err)
	return resp
}

func decodeApplied(t *testing.T, resp *http.Response) bool {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload struct {
		Applied bool `json:"applied"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload.Applied
}

func TestWebhookAppliesSignedEvent(t *testing.T) {
	app, incidents := newWebhookApp(t, "s3cret")
	body := []byte(`{"ticketKey":"OPS-42","changes":[{"field":"status","newValue":"In Progress"}]}`)

	resp := postWebhook(t, app, body, signBody("s3cret", body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeApplied(t, resp))
	assert.Equal(t, domain.StatusMitigating, incidents.incident.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app, incidents := newWebhookApp(t, "s3cret")
	body := []byte(`{"ticketKey":"OPS-42","changes":[{"field":"status","newValue":"In Progress"}]}`)

	resp := postWebhook(t, app, body, signBody("wrong-secret", body))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, incidents.saves)

	resp = postWebhook(t, app, body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a missing signature is rejected too")
}

func TestWebhookSkipsVerificationWithoutSecret(t *testing.T) {
	app, incidents := newWebhookApp(t, "")
	body := []byte(`{"ticketKey":"OPS-42","changes":[{"field":"status","newValue":"In Progress"}]}`)

	resp := postWebhook(t, app, body, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeApplied(t, resp))
	assert.Equal(t, 1, incidents.saves)
}

func TestWebhookUnknownTicketKey(t *testing.T) {
	app, incidents := newWebhookApp(t, "")
	body := []byte(`{"ticketKey":"OPS-999","changes":[{"field":"status","newValue":"In Progress"}]}`)

	resp := postWebhook(t, app, body, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "unknown tickets are acknowledged, not retried")
	assert.False(t, decodeApplied(t, resp))
	assert.Equal(t, 0, incidents.saves)
}

func TestWebhookValidatesPayload(t *testing.T) {
	app, _ := newWebhookApp(t, "")

	resp := postWebhook(t, app, []byte(`{"changes":[]}`), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
