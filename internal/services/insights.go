package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

// negativeHints map complaint keywords to the insight tag they imply
var negativeHints = map[string]string{
	"caro":      "precio",
	"demora":    "demora",
	"esperando": "demora",
	"molesto":   "soporte",
	"cancel":    "cancelacion",
	"problema":  "soporte",
}

var positiveHints = []string{"gracias", "pagado", "perfecto", "listo", "excelente"}

const insightsPrompt = `Analiza la siguiente conversación de ventas/soporte y genera un JSON con insights.

Requisitos de salida (JSON crudo):
{
    "summary_bullets": ["breve punto 1", "breve punto 2", "accion sugerida"],
    "sentiment_label": "POSITIVE" | "NEUTRAL" | "NEGATIVE",
    "sentiment_score": (int 1-10),
    "suggested_reply": "Genera una respuesta sugerida para el agente, corta y profesional, orientada a la venta o solucion",
    "key_points": {
        "need": "necesidad principal del cliente",
        "objection": "objecion principal o vacío",
        "urgency": "alta" | "media" | "baja",
        "next_step": "accion recomendada para el agente"
    },
    "tags": ["tag1", "tag2", "tag3"]
}

Conversación:
`

// InsightsService is the text-analysis collaborator: recent message texts in,
// sentiment label/score + tags + summary out. Backed by a DeepSeek-compatible
// chat API; falls back to deterministic keyword analysis when unconfigured
// or when the API call fails.
type InsightsService struct {
	client *openai.Client
	model  string
}

// NewInsightsService creates the insights service. An empty apiKey leaves
// the remote client nil and every analysis uses the mock path.
func NewInsightsService(apiKey, baseURL, model string) *InsightsService {
	svc := &InsightsService{model: model}
	if svc.model == "" {
		svc.model = "deepseek-chat"
	}
	if apiKey == "" {
		return svc
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	svc.client = openai.NewClientWithConfig(cfg)
	return svc
}

// AnalyzeMessages produces the insight payload for a slice of message texts
func (s *InsightsService) AnalyzeMessages(ctx context.Context, texts []string) map[string]any {
	if s.client == nil {
		return analyzeMock(texts)
	}
	analysis, err := s.analyzeRemote(ctx, texts)
	if err != nil {
		log.Printf("⚠️  Insights API error: %v. Falling back to mock analysis.", err)
		return analyzeMock(texts)
	}
	return analysis
}

func (s *InsightsService) analyzeRemote(ctx context.Context, texts []string) (map[string]any, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Eres un experto analista de CRM. Responde SOLO con JSON válido.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: insightsPrompt + strings.Join(texts, "\n"),
			},
		},
		Temperature: 0.1,
		MaxTokens:   500,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errEmptyCompletion
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(content, "```")

	var data map[string]any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil, err
	}
	return withInsightDefaults(data), nil
}

var errEmptyCompletion = errors.New("empty completion")

// withInsightDefaults guarantees every consumer-facing key exists
func withInsightDefaults(data map[string]any) map[string]any {
	keyPoints, _ := data["key_points"].(map[string]any)
	return map[string]any{
		"summary_bullets": orDefault(data["summary_bullets"], []any{"Sin resumen"}),
		"sentiment_label": orDefault(data["sentiment_label"], "NEUTRAL"),
		"sentiment_score": orDefault(data["sentiment_score"], 5),
		"suggested_reply": orDefault(data["suggested_reply"], ""),
		"key_points": map[string]any{
			"need":      orDefault(keyPoints["need"], "Desconocido"),
			"objection": orDefault(keyPoints["objection"], ""),
			"urgency":   orDefault(keyPoints["urgency"], "media"),
			"next_step": orDefault(keyPoints["next_step"], "Revisar caso"),
		},
		"tags": orDefault(data["tags"], []any{}),
	}
}

func orDefault(value, fallback any) any {
	if value == nil {
		return fallback
	}
	return value
}

// analyzeMock is the deterministic keyword fallback
func analyzeMock(texts []string) map[string]any {
	merged := strings.ToLower(strings.Join(texts, " "))

	tagSet := make(map[string]struct{})
	negativeMatches := 0
	for token, tag := range negativeHints {
		if strings.Contains(merged, token) {
			tagSet[tag] = struct{}{}
			negativeMatches++
		}
	}
	positiveMatches := 0
	for _, token := range positiveHints {
		if strings.Contains(merged, token) {
			positiveMatches++
		}
	}

	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	if len(tags) > 5 {
		tags = tags[:5]
	}

	var sentiment models.SentimentLabel
	var score int
	objection := ""
	switch {
	case negativeMatches > positiveMatches:
		sentiment = models.SentimentNegative
		score = 6 - negativeMatches
		if score < 1 {
			score = 1
		}
		if len(tags) > 0 {
			objection = tags[0]
		} else {
			objection = "desconocido"
		}
	case positiveMatches > 0:
		sentiment = models.SentimentPositive
		score = 7 + positiveMatches
		if score > 10 {
			score = 10
		}
	default:
		sentiment = models.SentimentNeutral
		score = 5
	}

	topic := "general"
	counts := make(map[string]int)
	best := 0
	for _, word := range strings.Fields(merged) {
		if len(word) <= 4 {
			continue
		}
		counts[word]++
		if counts[word] > best {
			best = counts[word]
			topic = word
		}
	}

	urgency := "media"
	if strings.Contains(merged, "urgente") {
		urgency = "alta"
	}

	return map[string]any{
		"summary_bullets": []any{
			"Contexto sintetizado desde los ultimos mensajes.",
			"Tema principal: " + topic,
			"Priorizar respuesta en esta conversacion.",
		},
		"sentiment_label": string(sentiment),
		"sentiment_score": score,
		"suggested_reply": "",
		"key_points": map[string]any{
			"need":      "Acompanamiento comercial o soporte.",
			"objection": objection,
			"urgency":   urgency,
			"next_step": "Responder con accion concreta y confirmar cierre.",
		},
		"tags": tags,
	}
}
