// Package api implements the thin Fiber HTTP surface in front of the
// Inbound Dispatcher (C1): Meta's GET challenge + POST webhook, WaSender's
// per-agent POST webhook, and a health check. Grounded on the teacher's
// internal/modules/saas/handlers/webhook_handler.go struct-wrapped-handler
// shape, generalized from one provider's JSON body to both provider
// envelopes plus Meta's GET verification handshake.
package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/dispatcher"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// Handlers wires the dispatcher to Fiber routes.
type Handlers struct {
	db              *gorm.DB
	dispatcher      *dispatcher.Dispatcher
	metaVerifyToken string
}

func NewHandlers(db *gorm.DB, d *dispatcher.Dispatcher, metaVerifyToken string) *Handlers {
	return &Handlers{db: db, dispatcher: d, metaVerifyToken: metaVerifyToken}
}

// Health reports process liveness for load balancers/orchestrators.
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// VerifyMeta answers the one-time GET handshake Meta performs when a
// webhook URL is configured, echoing hub.challenge back iff hub.verify_token
// matches the app-level token (spec §6: Meta Cloud API webhook setup).
func (h *Handlers) VerifyMeta(c *fiber.Ctx) error {
	if c.Query("hub.mode") != "subscribe" || c.Query("hub.verify_token") != h.metaVerifyToken {
		return c.SendStatus(fiber.StatusForbidden)
	}
	return c.SendString(c.Query("hub.challenge"))
}

// ReceiveMeta accepts one Meta Cloud API webhook POST. The dispatcher
// resolves the owning agent per-event from the payload's phone_number_id,
// so no agent id is needed on the route itself.
func (h *Handlers) ReceiveMeta(c *fiber.Ctx) error {
	log := logx.With("api")
	if err := h.dispatcher.HandleMeta(context.Background(), c.Body()); err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to handle meta webhook")
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.SendStatus(fiber.StatusOK)
}

// ReceiveWaSender accepts one WaSender webhook POST, scoped to a single
// agent by path parameter (spec §4.1: WaSender has no shared routing key
// the way Meta's phone_number_id is).
func (h *Handlers) ReceiveWaSender(c *fiber.Ctx) error {
	log := logx.With("api")
	agentID := c.Params("agent_id")

	var agent models.Agent
	if err := h.db.WithContext(c.Context()).First(&agent, "id = ?", agentID).Error; err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	sig := c.Get("X-Webhook-Signature")
	if err := h.dispatcher.HandleWaSender(context.Background(), agentID, sig, agent.WaSenderWebhookSecret, c.Body()); err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("⚠️ failed to handle wasender webhook")
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.SendStatus(fiber.StatusOK)
}
