package handlers

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/provider"
	"github.com/theteta-ops/controltower-backend/internal/services"
)

// WebhookHandler absorbs provider delivery events
type WebhookHandler struct {
	conversations *services.ConversationService
}

func NewWebhookHandler(conversations *services.ConversationService) *WebhookHandler {
	return &WebhookHandler{conversations: conversations}
}

// HandleProviderWebhook ingests one webhook delivery: extract every
// message-like node from the arbitrary JSON body, normalize, dedup and apply
// in timestamp order. Duplicate deliveries are counted as zero inserts.
func (h *WebhookHandler) HandleProviderWebhook(c *fiber.Ctx) error {
	var payload map[string]any
	if err := json.Unmarshal(c.Body(), &payload); err != nil || payload == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON payload",
		})
	}

	inserted := 0
	touched := make(map[string]struct{})

	for _, pm := range provider.ExtractWebhookMessages(payload) {
		result, err := h.conversations.IngestProviderMessage(pm, services.ProviderName)
		if err != nil {
			log.Printf("❌ Webhook ingest failed for %s: %v", pm.WaID, err)
			continue
		}
		if !result.Applied {
			continue
		}
		inserted++
		touched[result.ConversationID] = struct{}{}
	}

	for _, update := range provider.ExtractWebhookChatUpdates(payload) {
		convID, err := h.conversations.TouchChatUpdate(update.WaID, update.TS)
		if err != nil {
			continue
		}
		touched[convID] = struct{}{}
	}

	return c.JSON(fiber.Map{
		"ok":                    true,
		"inserted_messages":     inserted,
		"conversations_touched": len(touched),
	})
}

// MockWebhookRequest is the simplified single-message payload used by the
// demo webhook route.
type MockWebhookRequest struct {
	Provider   string `json:"provider"`
	WaID       string `json:"wa_id"`
	MessageID  string `json:"message_id"`
	Timestamp  string `json:"timestamp"`
	Direction  string `json:"direction"`
	Text       string `json:"text"`
	SenderRole string `json:"sender_role"`
}

// HandleMockWebhook records one message as if a provider had delivered it
func (h *WebhookHandler) HandleMockWebhook(c *fiber.Ctx) error {
	payload := MockWebhookRequest{Provider: "mock", Direction: "inbound", SenderRole: "USER"}
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	sender := models.MessageSender(strings.ToUpper(strings.TrimSpace(payload.SenderRole)))
	if !models.ValidSender(sender) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "sender_role must be USER, BOT or AGENT",
		})
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message text cannot be empty",
		})
	}

	client, err := h.conversations.UpsertClientByPhone(payload.WaID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid wa_id",
		})
	}

	ts := provider.ParseProviderTimestamp(payload.Timestamp)
	conv, err := h.conversations.FindOrCreateConversation(client.ID, ts)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	message, err := h.conversations.AppendMessage(conv, sender, text, ts, payload.Provider, payload.MessageID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"conversation_id": conv.ID,
		"message_id":      message.ID,
	})
}
