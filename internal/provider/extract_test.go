package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

func messageEnvelope(event string, messages ...map[string]any) map[string]any {
	items := make([]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, msg)
	}
	return map[string]any{
		"event": event,
		"data":  map[string]any{"messages": items},
	}
}

func TestExtractWebhookMessagesSingleInbound(t *testing.T) {
	payload := messageEnvelope("messages.received", map[string]any{
		"from":      "573001234567@s.whatsapp.net",
		"text":      "hola",
		"timestamp": float64(1700000000),
		"id":        "msg-1",
	})

	messages := ExtractWebhookMessages(payload)
	require.Len(t, messages, 1)
	assert.Equal(t, "573001234567", messages[0].WaID)
	assert.Equal(t, models.SenderUser, messages[0].Sender)
	assert.Equal(t, "msg-1", messages[0].ProviderMessageID)
}

func TestExtractWebhookMessagesDefaultSenderFromEvent(t *testing.T) {
	node := map[string]any{
		"wa_id":     "573001234567",
		"text":      "mensaje sin direccion",
		"timestamp": float64(1700000000),
	}

	inbound := ExtractWebhookMessages(messageEnvelope("messages.received", node))
	require.Len(t, inbound, 1)
	assert.Equal(t, models.SenderUser, inbound[0].Sender)

	outbound := ExtractWebhookMessages(messageEnvelope("messages.sent", node))
	require.Len(t, outbound, 1)
	assert.Equal(t, models.SenderAgent, outbound[0].Sender)
}

func TestExtractWebhookMessagesDedupByProviderID(t *testing.T) {
	duplicate := map[string]any{
		"from":      "573001234567",
		"text":      "hola",
		"timestamp": float64(1700000000),
		"id":        "dup-1",
	}
	payload := messageEnvelope("messages.received", duplicate, duplicate)

	messages := ExtractWebhookMessages(payload)
	assert.Len(t, messages, 1)
}

func TestExtractWebhookMessagesDedupByCompositeKey(t *testing.T) {
	noID := map[string]any{
		"from":      "573001234567",
		"text":      "hola",
		"timestamp": float64(1700000000),
	}
	payload := messageEnvelope("messages.received", noID, noID)

	messages := ExtractWebhookMessages(payload)
	assert.Len(t, messages, 1)
}

func TestExtractWebhookMessagesSortedByTimestamp(t *testing.T) {
	payload := messageEnvelope("messages.received",
		map[string]any{"from": "573001234567", "text": "tercero", "timestamp": float64(1700000300), "id": "m3"},
		map[string]any{"from": "573001234567", "text": "primero", "timestamp": float64(1700000100), "id": "m1"},
		map[string]any{"from": "573001234567", "text": "segundo", "timestamp": float64(1700000200), "id": "m2"},
	)

	messages := ExtractWebhookMessages(payload)
	require.Len(t, messages, 3)
	assert.Equal(t, "primero", messages[0].Text)
	assert.Equal(t, "segundo", messages[1].Text)
	assert.Equal(t, "tercero", messages[2].Text)
}

func TestExtractWebhookMessagesDepthLimit(t *testing.T) {
	leaf := map[string]any{
		"from":      "573001234567",
		"text":      "muy profundo",
		"timestamp": float64(1700000000),
	}
	// Wrap beyond the walk budget; the leaf must become unreachable
	var payload any = leaf
	for i := 0; i < 10; i++ {
		payload = map[string]any{"payload": payload}
	}

	messages := ExtractWebhookMessages(map[string]any{
		"event": "messages.received",
		"data":  payload,
	})
	assert.Empty(t, messages)
}

func TestExtractWebhookMessagesEnvelopeAndNested(t *testing.T) {
	// An envelope that itself matches a marker key still yields its children
	payload := map[string]any{
		"event": "messages.received",
		"data": map[string]any{
			"key": map[string]any{"remoteJid": "573001234567@s.whatsapp.net", "fromMe": false, "id": "outer"},
			"message": map[string]any{
				"conversation": "mensaje anidado",
			},
			"messageTimestamp": float64(1700000000),
		},
	}

	messages := ExtractWebhookMessages(payload)
	require.NotEmpty(t, messages)
	assert.Equal(t, "mensaje anidado", messages[0].Text)
}

func TestExtractWebhookChatUpdates(t *testing.T) {
	payload := map[string]any{
		"event": "chats.update",
		"data": map[string]any{
			"id":                    "573001234567@s.whatsapp.net",
			"conversationTimestamp": float64(1700000500),
		},
	}

	updates := ExtractWebhookChatUpdates(payload)
	require.Len(t, updates, 1)
	assert.Equal(t, "573001234567", updates[0].WaID)
	assert.Equal(t, time.Unix(1700000500, 0).UTC(), updates[0].TS)
}

func TestExtractWebhookChatUpdatesIgnoresNonChatEvents(t *testing.T) {
	payload := map[string]any{
		"event": "messages.received",
		"data": map[string]any{
			"id":                    "573001234567",
			"conversationTimestamp": float64(1700000500),
		},
	}
	assert.Empty(t, ExtractWebhookChatUpdates(payload))
}

func TestExtractWebhookChatUpdatesDedup(t *testing.T) {
	node := map[string]any{
		"id":                    "573001234567",
		"conversationTimestamp": float64(1700000500),
	}
	payload := map[string]any{
		"event": "chats.upsert",
		"data":  map[string]any{"messages": []any{node, node}},
	}

	updates := ExtractWebhookChatUpdates(payload)
	assert.Len(t, updates, 1)
}
