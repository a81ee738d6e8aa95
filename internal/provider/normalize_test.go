package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

func TestNormalizeWaID(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  string
	}{
		{"plain digits", "573001234567", "573001234567"},
		{"whatsapp jid", "573001234567@s.whatsapp.net", "573001234567"},
		{"formatted phone", "+57 300 123-4567", "573001234567"},
		{"whatsapp prefix", "whatsapp:+573001234567", "573001234567"},
		{"numeric input", float64(573001234567), "573001234567"},
		{"no digits keeps trimmed", "  unknown  ", "unknown"},
		{"empty", "", ""},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeWaID(tc.input))
		})
	}
}

func TestNormalizeWaIDIdempotent(t *testing.T) {
	once := NormalizeWaID("573001234567@s.whatsapp.net")
	assert.Equal(t, once, NormalizeWaID(once))
}

func TestParseProviderTimestampEpochs(t *testing.T) {
	want := time.Unix(1700000000, 0).UTC()

	// Seconds and milliseconds must land on the same instant
	assert.Equal(t, want, ParseProviderTimestamp(float64(1700000000)))
	assert.Equal(t, want, ParseProviderTimestamp(float64(1700000000000)))
	assert.Equal(t, want, ParseProviderTimestamp("1700000000"))
	assert.Equal(t, want, ParseProviderTimestamp("1700000000000"))
}

func TestParseProviderTimestampISO(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, want, ParseProviderTimestamp("2024-03-05T10:30:00Z"))
	assert.Equal(t, want, ParseProviderTimestamp("2024-03-05T10:30:00+00:00"))
	assert.Equal(t, want, ParseProviderTimestamp("2024-03-05T10:30:00"))
	assert.Equal(t, want, ParseProviderTimestamp("2024-03-05 10:30:00"))
}

func TestParseProviderTimestampGarbageFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	got := ParseProviderTimestamp("not-a-timestamp")
	after := time.Now().UTC()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestNormalizeProviderMessageInbound(t *testing.T) {
	node := map[string]any{
		"from":      "573001234567@s.whatsapp.net",
		"fromMe":    false,
		"text":      "hola, necesito ayuda",
		"timestamp": float64(1700000000),
		"id":        "wamid.ABC123",
	}

	pm := NormalizeProviderMessage(node, models.SenderAgent)
	require.NotNil(t, pm)
	assert.Equal(t, "573001234567", pm.WaID)
	assert.Equal(t, models.SenderUser, pm.Sender)
	assert.Equal(t, "hola, necesito ayuda", pm.Text)
	assert.Equal(t, "wamid.ABC123", pm.ProviderMessageID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), pm.TS)
}

func TestNormalizeProviderMessageOutboundDirection(t *testing.T) {
	node := map[string]any{
		"to":        "573009876543",
		"direction": "outbound",
		"body":      "te comparto la propuesta",
		"timestamp": "2024-03-05T10:30:00Z",
	}

	pm := NormalizeProviderMessage(node, models.SenderUser)
	require.NotNil(t, pm)
	assert.Equal(t, models.SenderAgent, pm.Sender)
	assert.Equal(t, "573009876543", pm.WaID)
}

func TestNormalizeProviderMessageNestedText(t *testing.T) {
	node := map[string]any{
		"key": map[string]any{
			"remoteJid": "573001234567@s.whatsapp.net",
			"fromMe":    false,
			"id":        "3EB0ABC",
		},
		"message": map[string]any{
			"extendedTextMessage": map[string]any{"text": "quiero el plan pro"},
		},
		"messageTimestamp": float64(1700000100),
	}

	pm := NormalizeProviderMessage(node, models.SenderAgent)
	require.NotNil(t, pm)
	assert.Equal(t, models.SenderUser, pm.Sender)
	assert.Equal(t, "quiero el plan pro", pm.Text)
	assert.Equal(t, "3EB0ABC", pm.ProviderMessageID)
}

func TestNormalizeProviderMessageImageCaption(t *testing.T) {
	node := map[string]any{
		"from": "573001234567",
		"message": map[string]any{
			"imageMessage": map[string]any{"caption": "este es el error"},
		},
		"timestamp": float64(1700000200),
	}

	pm := NormalizeProviderMessage(node, models.SenderUser)
	require.NotNil(t, pm)
	assert.Equal(t, "este es el error", pm.Text)
}

func TestNormalizeProviderMessageRejectsUnusableNodes(t *testing.T) {
	// No phone id
	assert.Nil(t, NormalizeProviderMessage(map[string]any{"text": "hola"}, models.SenderUser))
	// No text
	assert.Nil(t, NormalizeProviderMessage(map[string]any{"from": "573001234567"}, models.SenderUser))
	// Not a mapping
	assert.Nil(t, NormalizeProviderMessage("just a string", models.SenderUser))
}

func TestNormalizeProviderMessageDefaultSender(t *testing.T) {
	node := map[string]any{
		"wa_id":     "573001234567",
		"text":      "sin direccion explicita",
		"timestamp": float64(1700000000),
	}

	pm := NormalizeProviderMessage(node, models.SenderBot)
	require.NotNil(t, pm)
	assert.Equal(t, models.SenderBot, pm.Sender)
}

func TestNormalizeProviderMessageObjectMessageID(t *testing.T) {
	node := map[string]any{
		"from":      "573001234567",
		"text":      "hola",
		"timestamp": float64(1700000000),
		"message":   map[string]any{"id": "nested-id-9"},
	}

	pm := NormalizeProviderMessage(node, models.SenderUser)
	require.NotNil(t, pm)
	assert.Equal(t, "nested-id-9", pm.ProviderMessageID)
}

func TestExtractTextCoercesEmbeddedJSON(t *testing.T) {
	got := extractText(`{"body": "texto embebido"}`)
	assert.Equal(t, "texto embebido", got)
}
