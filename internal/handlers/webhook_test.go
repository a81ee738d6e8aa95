package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theteta-ops/controltower-backend/internal/services"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

func newWebhookTestApp(store storage.Store) *fiber.App {
	conversationService := services.NewConversationService(store, nil)
	handler := NewWebhookHandler(conversationService)

	app := fiber.New()
	app.Post("/webhook/whatsapp", handler.HandleProviderWebhook)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) (int, map[string]any) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestProviderWebhookIngestsMessages(t *testing.T) {
	store := storage.NewMemoryStore()
	app := newWebhookTestApp(store)

	payload := map[string]any{
		"event": "messages.received",
		"data": map[string]any{
			"messages": []any{
				map[string]any{
					"from":      "573001234567@s.whatsapp.net",
					"text":      "hola",
					"timestamp": 1700000000,
					"id":        "msg-1",
				},
			},
		},
	}

	status, body := postJSON(t, app, "/webhook/whatsapp", payload)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(1), body["inserted_messages"])
	assert.Equal(t, float64(1), body["conversations_touched"])

	conversations, err := store.GetAllConversations()
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	messages, err := store.GetMessagesByConversation(conversations[0].ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestProviderWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	store := storage.NewMemoryStore()
	app := newWebhookTestApp(store)

	payload := map[string]any{
		"event": "messages.received",
		"data": map[string]any{
			"messages": []any{
				map[string]any{
					"from":      "573001234567",
					"text":      "hola",
					"timestamp": 1700000000,
					"id":        "msg-1",
				},
			},
		},
	}

	status, _ := postJSON(t, app, "/webhook/whatsapp", payload)
	assert.Equal(t, fiber.StatusOK, status)

	// Redelivery inserts nothing new
	status, body := postJSON(t, app, "/webhook/whatsapp", payload)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["inserted_messages"])

	conversations, err := store.GetAllConversations()
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	messages, err := store.GetMessagesByConversation(conversations[0].ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestProviderWebhookInvalidJSON(t *testing.T) {
	store := storage.NewMemoryStore()
	app := newWebhookTestApp(store)

	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestProviderWebhookChatUpdateTouchesConversation(t *testing.T) {
	store := storage.NewMemoryStore()
	app := newWebhookTestApp(store)

	payload := map[string]any{
		"event": "chats.update",
		"data": map[string]any{
			"id":                    "573001234567@s.whatsapp.net",
			"conversationTimestamp": 1700000500,
		},
	}

	status, body := postJSON(t, app, "/webhook/whatsapp", payload)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["inserted_messages"])
	assert.Equal(t, float64(1), body["conversations_touched"])

	conversations, err := store.GetAllConversations()
	require.NoError(t, err)
	require.Len(t, conversations, 1)
}
