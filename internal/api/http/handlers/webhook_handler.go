package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/incident-sync/internal/api/dto"
	syncengine "github.com/spec-kit/incident-sync/internal/sync"
	apperrors "github.com/spec-kit/incident-sync/pkg/util/errorutil"
)

const signatureHeader = "X-Ticket-Signature"

// WebhookHandler ingests change notifications from the ticket system.
type WebhookHandler struct {
	engine *syncengine.Engine
	secret string
	logger *zap.Logger
}

// NewWebhookHandler constructs handler.
func NewWebhookHandler(engine *syncengine.Engine, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{engine: engine, secret: secret, logger: logger}
}

// Handle POST /webhooks/ticket. Responds 200 regardless of per-delta outcome;
// the ticket system must not retry on application-level failures.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	if h.secret != "" && !h.verifySignature(c) {
		return apperrors.NewUnauthorized("invalid webhook signature")
	}

	var req dto.TicketWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TicketKey == "" {
		return apperrors.NewValidationError("ticketKey required", nil)
	}

	deltas := make([]syncengine.FieldDelta, 0, len(req.Changes))
	for _, change := range req.Changes {
		deltas = append(deltas, syncengine.FieldDelta{
			Field:    change.Field,
			NewValue: change.NewValue,
		})
	}

	applied := h.engine.HandleInboundEvent(c.UserContext(), req.TicketKey, deltas)
	return c.JSON(dto.TicketWebhookResponse{Applied: applied})
}

func (h *WebhookHandler) verifySignature(c *fiber.Ctx) bool {
	provided := c.Get(signatureHeader)
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(c.Body())
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		h.logger.Warn("webhook signature mismatch")
		return false
	}
	return true
}
