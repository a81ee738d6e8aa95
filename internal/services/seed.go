package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

// SeedRequest controls demo dataset generation
type SeedRequest struct {
	Agents        int     `json:"agents"`
	Clients       int     `json:"clients"`
	Conversations int     `json:"conversations"`
	MinMessages   int     `json:"min_messages"`
	MaxMessages   int     `json:"max_messages"`
	RunAIOnPct    float64 `json:"run_ai_on_pct"`
}

// DefaultSeedRequest returns the demo dataset defaults
func DefaultSeedRequest() SeedRequest {
	return SeedRequest{
		Agents:        6,
		Clients:       120,
		Conversations: 220,
		MinMessages:   6,
		MaxMessages:   25,
		RunAIOnPct:    0.35,
	}
}

var namesPool = []string{
	"Camila Rojas", "Juan Pablo Arias", "Sara Mendez", "Andres Torres",
	"Valentina Suarez", "Mateo Pineda", "Laura Villamizar", "David Hernandez",
	"Natalia Guerra", "Santiago Pena",
}

var companiesPool = []string{
	"Ferreteria La 30", "Boutique Luna", "Restaurante El Patio",
	"Clinica Dental Sonrie", "Academia FitPro", "Tienda TechNova",
	"Inmobiliaria Norte", "Pasteleria Dulce Arte",
}

var citiesPool = []string{"Bogota", "Medellin", "Cali", "Barranquilla", "Bucaramanga", "Cucuta"}

var scenarios = [][2]string{
	{"Hola, cuanto vale?", "Te comparto opciones con descuento."},
	{"Llevo 2 dias esperando respuesta", "Disculpa, ya reviso tu caso."},
	{"Me interesa el plan", "Te comparto link de pago y activacion."},
	{"Lo pense mejor y no", "Entiendo, te ayudo a comparar opciones."},
	{"Volvio el problema", "Vamos a reabrir y priorizarlo hoy."},
}

var negativeFragments = []string{
	"esta caro",
	"estoy molesto por la demora",
	"necesito solucion urgente",
	"si no responden cancelo",
}

var userLines = []string{
	"me puedes ampliar la info",
	"que incluye el plan",
	"podemos agendar demo",
	"cuando quedaria activo",
}

var agentLines = []string{
	"te apoyo con eso ahora",
	"ya escale el caso",
	"te comparto propuesta final",
	"confirma si cerramos hoy",
}

var botLines = []string{
	"elige opcion 1 para ventas o 2 para soporte",
	"gracias por escribir a TheTeta",
	"estamos procesando tu solicitud",
}

// SeedService regenerates the demo dataset. Demo routes only.
type SeedService struct {
	store    storage.Store
	insights *InsightsService
}

func NewSeedService(store storage.Store, insights *InsightsService) *SeedService {
	return &SeedService{store: store, insights: insights}
}

// SeedDatabase wipes the store and generates agents, clients and
// conversations with realistic message streams, then recomputes risk on
// every generated conversation. Deterministic for a given request.
func (s *SeedService) SeedDatabase(ctx context.Context, req SeedRequest) (map[string]any, error) {
	rng := rand.New(rand.NewSource(42))
	now := time.Now().UTC()

	if err := s.store.ResetAll(); err != nil {
		return nil, err
	}

	agents := make([]*models.Agent, 0, req.Agents)
	for idx := 0; idx < req.Agents; idx++ {
		agent, err := s.store.CreateAgent(&models.Agent{
			Name:   fmt.Sprintf("Agente %d", idx+1),
			Active: true,
		})
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	clients := make([]*models.Client, 0, req.Clients)
	for idx := 0; idx < req.Clients; idx++ {
		client, err := s.store.CreateClient(&models.Client{
			Name:      pick(rng, namesPool),
			Phone:     seedPhone(idx + 1),
			Company:   pick(rng, companiesPool),
			City:      pick(rng, citiesPool),
			CreatedAt: now.AddDate(0, 0, -(1 + rng.Intn(60))),
		})
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	analyzedCount := 0
	riskCount := 0
	msgCount := 0

	for i := 0; i < req.Conversations; i++ {
		client := clients[rng.Intn(len(clients))]
		createdAt := now.
			AddDate(0, 0, -rng.Intn(15)).
			Add(-time.Duration(rng.Intn(24)) * time.Hour).
			Add(-time.Duration(rng.Intn(60)) * time.Minute)
		status := weightedStatus(rng)

		var agentID *string
		if rng.Float64() < 0.88 {
			agentID = &agents[rng.Intn(len(agents))].ID
		}
		reopened := 0
		if rng.Float64() < 0.10 {
			reopened = 1
		}

		conv, err := s.store.CreateConversation(&models.Conversation{
			ClientID:        client.ID,
			Status:          status,
			AssignedAgentID: agentID,
			Outcome:         models.OutcomeUnknown,
			CreatedAt:       createdAt,
			UpdatedAt:       createdAt,
			LastMessageAt:   createdAt,
			ReopenedCount:   reopened,
		})
		if err != nil {
			return nil, err
		}

		scenario := scenarios[rng.Intn(len(scenarios))]
		messageTotal := req.MinMessages
		if req.MaxMessages > req.MinMessages {
			messageTotal += rng.Intn(req.MaxMessages - req.MinMessages + 1)
		}
		noResponse := rng.Float64() < 0.08
		slowFirst := rng.Float64() < 0.18
		shouldBeNegative := rng.Float64() < 0.22

		ts := createdAt
		for j := 0; j < messageTotal; j++ {
			var sender models.MessageSender
			var text string

			switch {
			case j == 0:
				sender = models.SenderUser
				text = scenario[0]
				ts = ts.Add(time.Duration(1+rng.Intn(5)) * time.Minute)
			case j == 1 && !noResponse:
				sender = models.SenderAgent
				text = scenario[1]
				delay := 1 + rng.Intn(9)
				if slowFirst {
					delay = 12 + rng.Intn(24)
				}
				ts = ts.Add(time.Duration(delay) * time.Minute)
			default:
				roll := rng.Float64()
				switch {
				case roll < 0.45:
					sender = models.SenderUser
				case roll < 0.85:
					sender = models.SenderAgent
				default:
					sender = models.SenderBot
				}
				ts = ts.Add(time.Duration(2+rng.Intn(34)) * time.Minute)
				switch {
				case sender == models.SenderUser && shouldBeNegative && rng.Float64() < 0.5:
					text = pick(rng, negativeFragments)
				case sender == models.SenderUser:
					text = pick(rng, userLines)
				case sender == models.SenderAgent:
					text = pick(rng, agentLines)
				default:
					text = pick(rng, botLines)
				}
			}

			message := &models.Message{
				ConversationID: conv.ID,
				Sender:         sender,
				Text:           text,
				TS:             ts,
				OutOfHours:     IsOutOfHours(ts),
				Provider:       "mock",
			}

			conv.LastMessageAt = ts
			if sender == models.SenderUser && conv.FirstUserMessageAt == nil {
				t := ts
				conv.FirstUserMessageAt = &t
			}
			if sender == models.SenderAgent {
				t := ts
				if conv.FirstAgentReplyAt == nil {
					conv.FirstAgentReplyAt = &t
				}
				conv.LastAgentReplyAt = &t
			}

			if err := s.store.AppendMessage(message, conv); err != nil {
				return nil, err
			}
			msgCount++
		}

		if status == models.StatusClosed {
			closedAt := conv.LastMessageAt.Add(time.Duration(5+rng.Intn(176)) * time.Minute)
			conv.ClosedAt = &closedAt
			if rng.Float64() < 0.18 {
				conv.Outcome = models.OutcomeLost
			} else {
				conv.Outcome = models.OutcomeWon
			}
		}

		score := 5
		switch {
		case shouldBeNegative:
			conv.SentimentLabel = models.SentimentNegative
			score = 2 + rng.Intn(3)
			conv.Tags = pickTags(rng)
		case conv.Outcome == models.OutcomeWon:
			conv.SentimentLabel = models.SentimentPositive
			score = 7 + rng.Intn(3)
			conv.Tags = []string{"plan_pro", "demo"}
		default:
			conv.SentimentLabel = models.SentimentNeutral
			conv.Tags = []string{"seguimiento"}
		}
		conv.SentimentScore = &score

		if s.insights != nil && rng.Float64() < req.RunAIOnPct {
			messages, err := s.store.GetMessagesByConversation(conv.ID)
			if err != nil {
				return nil, err
			}
			texts := make([]string, 0, len(messages))
			for _, m := range messages {
				texts = append(texts, m.Text)
			}
			if len(texts) > 30 {
				texts = texts[len(texts)-30:]
			}
			conv.SummaryJSON = s.insights.AnalyzeMessages(ctx, texts)
			analyzedCount++
		}

		assessment := AssessRisk(*conv, now)
		conv.RiskFlag = assessment.RiskFlag
		conv.RiskReasons = assessment.RiskReasons
		if conv.RiskFlag {
			riskCount++
		}
		conv.UpdatedAt = now
		if err := s.store.UpdateConversation(conv); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"agents":        req.Agents,
		"clients":       req.Clients,
		"conversations": req.Conversations,
		"messages":      msgCount,
		"at_risk":       riskCount,
		"analyzed":      analyzedCount,
	}, nil
}

func weightedStatus(rng *rand.Rand) models.ConversationStatus {
	roll := rng.Float64()
	switch {
	case roll < 0.20:
		return models.StatusNew
	case roll < 0.35:
		return models.StatusContacted
	case roll < 0.50:
		return models.StatusInterested
	case roll < 0.65:
		return models.StatusNegotiation
	case roll < 0.75:
		return models.StatusReengagement
	case roll < 0.85:
		return models.StatusSupport
	default:
		return models.StatusClosed
	}
}

func pickTags(rng *rand.Rand) []string {
	options := [][]string{
		{"demora", "soporte"},
		{"precio", "descuento"},
		{"cancelacion"},
	}
	return options[rng.Intn(len(options))]
}

func seedPhone(seed int) string {
	return fmt.Sprintf("57300%06d", seed)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}
