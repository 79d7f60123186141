package http

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"mailgrouper/core/port/in"
	"mailgrouper/pkg/logger"
)

// pushMessageID peeks the provider's Pub/Sub message id out of the raw
// envelope for log correlation only — the service itself re-parses and
// trusts its own copy, this is best-effort and ignored on failure.
type pushMessageID struct {
	Message struct {
		MessageID string `json:"messageId"`
	} `json:"message"`
}

type WebhookHandler struct {
	service in.WebhookService
}

func NewWebhookHandler(service in.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

func (h *WebhookHandler) Register(router fiber.Router) {
	router.Post("/webhook/mail", h.HandleMail)
}

// HandleMail handles POST /webhook/mail. The provider's push endpoint has no
// way to carry a bearer token, so this route sits outside JWTAuth (§6); the
// acting user is resolved from the envelope itself
// (core/service/webhook.Service). Always answers 200 so the provider does
// not retry-storm on a transient downstream failure — the queue behind the
// WatchCoordinator is where real retries belong.
func (h *WebhookHandler) HandleMail(c *fiber.Ctx) error {
	if err := h.service.HandlePushNotification(c.Context(), "", c.Body()); err != nil {
		var peek pushMessageID
		_ = json.Unmarshal(c.Body(), &peek)
		logger.WithError(err).WithMessageID(peek.Message.MessageID).Warn("webhook push notification handling failed")
	}
	return c.SendStatus(fiber.StatusOK)
}
