package handlers

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/theteta-ops/controltower-backend/internal/config"
	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/services"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

// ConversationHandler serves the inbox: list, detail, edits, outbound
// messages and on-demand AI analysis.
type ConversationHandler struct {
	store         storage.Store
	conversations *services.ConversationService
	twilio        *services.TwilioService
	insights      *services.InsightsService
	settings      *config.Settings
}

func NewConversationHandler(store storage.Store, conversations *services.ConversationService,
	twilioService *services.TwilioService, insights *services.InsightsService, settings *config.Settings) *ConversationHandler {

	return &ConversationHandler{
		store:         store,
		conversations: conversations,
		twilio:        twilioService,
		insights:      insights,
		settings:      settings,
	}
}

// clientAgentMaps loads lookup maps for denormalized conversation rows
func clientAgentMaps(store storage.Store) (map[string]*models.Client, map[string]*models.Agent, error) {
	clients, err := store.GetAllClients()
	if err != nil {
		return nil, nil, err
	}
	agents, err := store.GetAllAgents()
	if err != nil {
		return nil, nil, err
	}

	clientsMap := make(map[string]*models.Client, len(clients))
	for _, client := range clients {
		clientsMap[client.ID] = client
	}
	agentsMap := make(map[string]*models.Agent, len(agents))
	for _, agent := range agents {
		agentsMap[agent.ID] = agent
	}
	return clientsMap, agentsMap, nil
}

// conversationView is the denormalized conversation shape the frontend renders
func conversationView(conv *models.Conversation, client *models.Client, agent *models.Agent) fiber.Map {
	var agentView fiber.Map
	if agent != nil {
		agentView = fiber.Map{"id": agent.ID, "name": agent.Name}
	}
	var clientView fiber.Map
	if client != nil {
		clientView = fiber.Map{
			"id":      client.ID,
			"name":    client.Name,
			"phone":   client.Phone,
			"company": client.Company,
			"city":    client.City,
		}
	}

	var sentiment *string
	if conv.SentimentLabel != "" {
		label := string(conv.SentimentLabel)
		sentiment = &label
	}

	return fiber.Map{
		"id":              conv.ID,
		"status":          conv.Status,
		"outcome":         conv.Outcome,
		"risk_flag":       conv.RiskFlag,
		"risk_reasons":    orEmptyList(conv.RiskReasons),
		"created_at":      conv.CreatedAt,
		"updated_at":      conv.UpdatedAt,
		"last_message_at": conv.LastMessageAt,
		"assigned_agent":  agentView,
		"client":          clientView,
		"sentiment_label": sentiment,
		"sentiment_score": conv.SentimentScore,
		"tags":            orEmptyList(conv.Tags),
	}
}

func conversationRow(conv *models.Conversation, client *models.Client, agent *models.Agent, now time.Time) fiber.Map {
	row := conversationView(conv, client, agent)
	row["priority_score"] = services.PriorityScore(*conv)
	row["minutes_since_last_agent_reply"] = services.MinutesWithoutReply(*conv, now)
	return row
}

func messageRow(msg *models.Message) fiber.Map {
	return fiber.Map{
		"id":                  msg.ID,
		"sender":              msg.Sender,
		"text":                msg.Text,
		"ts":                  msg.TS,
		"out_of_hours":        msg.OutOfHours,
		"provider":            msg.Provider,
		"provider_message_id": msg.ProviderMessageID,
	}
}

// conversationMetrics derives per-conversation response metrics. ART pairs
// each user message with the next agent reply; unanswered tails are ignored.
func conversationMetrics(messages []*models.Message, conv *models.Conversation) fiber.Map {
	sorted := make([]*models.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TS.Before(sorted[j].TS)
	})

	var responseTimes []int
	var waitingSince *time.Time
	for _, msg := range sorted {
		switch msg.Sender {
		case models.SenderUser:
			ts := msg.TS
			waitingSince = &ts
		case models.SenderAgent:
			if waitingSince != nil {
				delta := int(msg.TS.Sub(*waitingSince).Milliseconds() / 60_000)
				if delta < 0 {
					delta = 0
				}
				responseTimes = append(responseTimes, delta)
				waitingSince = nil
			}
		}
	}

	var artAvg *float64
	if len(responseTimes) > 0 {
		total := 0
		for _, v := range responseTimes {
			total += v
		}
		avg := round2(float64(total) / float64(len(responseTimes)))
		artAvg = &avg
	}

	createdAt := conv.CreatedAt
	return fiber.Map{
		"frt_minutes":                services.FRTMinutes(*conv),
		"art_avg_minutes":            artAvg,
		"time_to_resolution_minutes": services.MinutesBetween(&createdAt, conv.ClosedAt),
		"priority_score":             services.PriorityScore(*conv),
	}
}

// List returns every conversation ordered by recency, with optional status,
// agent, risk and free-text filters. Risk flags are refreshed first so stale
// cached assessments never leak into the inbox.
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	now := time.Now().UTC()
	conversations, err := h.store.GetAllConversations()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if _, err := h.conversations.RefreshRiskFlags(conversations, now); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	clientsMap, agentsMap, err := clientAgentMaps(h.store)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	statusFilter := models.ConversationStatus(strings.ToUpper(c.Query("status")))
	agentFilter := c.Query("assigned_agent_id")
	riskFilter := c.Query("risk_flag")
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))

	rows := make([]fiber.Map, 0, len(conversations))
	for _, conv := range conversations {
		if statusFilter != "" && conv.Status != statusFilter {
			continue
		}
		if agentFilter != "" && (conv.AssignedAgentID == nil || *conv.AssignedAgentID != agentFilter) {
			continue
		}
		if riskFilter != "" {
			want, err := strconv.ParseBool(riskFilter)
			if err == nil && conv.RiskFlag != want {
				continue
			}
		}

		client := clientsMap[conv.ClientID]
		var agent *models.Agent
		if conv.AssignedAgentID != nil {
			agent = agentsMap[*conv.AssignedAgentID]
		}

		if q != "" {
			var parts []string
			if client != nil {
				parts = append(parts, client.Name, client.Phone, client.Company)
			}
			parts = append(parts, conv.ID)
			if !strings.Contains(strings.ToLower(strings.Join(parts, " ")), q) {
				continue
			}
		}

		rows = append(rows, conversationRow(conv, client, agent, now))
	}
	return c.JSON(rows)
}

// recentClientRows builds the deduped most-recent-contact list, conversations
// with a real user message first.
func (h *ConversationHandler) recentClientRows(limit int, q string) ([]fiber.Map, error) {
	conversations, err := h.store.GetAllConversations()
	if err != nil {
		return nil, err
	}
	clientsMap, _, err := clientAgentMaps(h.store)
	if err != nil {
		return nil, err
	}

	ordered := make([]*models.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if conv.FirstUserMessageAt != nil {
			ordered = append(ordered, conv)
		}
	}
	for _, conv := range conversations {
		if conv.FirstUserMessageAt == nil {
			ordered = append(ordered, conv)
		}
	}

	qLower := strings.ToLower(strings.TrimSpace(q))
	rows := make([]fiber.Map, 0, limit)
	seenPhones := make(map[string]struct{})
	for _, conv := range ordered {
		client := clientsMap[conv.ClientID]
		if client == nil {
			continue
		}
		if _, dup := seenPhones[client.Phone]; dup {
			continue
		}
		if qLower != "" {
			searchable := strings.ToLower(strings.Join([]string{client.Name, client.Phone, client.Company}, " "))
			if !strings.Contains(searchable, qLower) {
				continue
			}
		}

		seenPhones[client.Phone] = struct{}{}
		rows = append(rows, fiber.Map{
			"conversation_id":  conv.ID,
			"client_name":      client.Name,
			"phone":            client.Phone,
			"last_seen_at":     conv.LastMessageAt,
			"status":           conv.Status,
			"has_user_message": conv.FirstUserMessageAt != nil,
		})
		if len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// bootstrapRecentClients seeds the store from the provider's recent message
// log so a fresh deployment has a populated panel. Provider failures are
// silent: the panel just stays empty.
func (h *ConversationHandler) bootstrapRecentClients(limit int) {
	if !h.settings.HistorySyncEnabled || h.twilio == nil {
		return
	}
	recent, err := h.twilio.FetchRecentMessages(limit)
	if err != nil {
		return
	}

	seen := make(map[string]struct{})
	for _, item := range recent {
		if _, dup := seen[item.WaID]; dup {
			continue
		}
		seen[item.WaID] = struct{}{}
		if _, err := h.conversations.IngestProviderMessage(item, services.ProviderName); err != nil {
			continue
		}
		if len(seen) >= limit {
			break
		}
	}
}

// RecentClients returns the most recently active contacts, pulling from the
// provider log once when the local store has nothing to show.
func (h *ConversationHandler) RecentClients(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}
	q := c.Query("q")

	rows, err := h.recentClientRows(limit, q)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if len(rows) > 0 {
		return c.JSON(rows)
	}

	h.bootstrapRecentClients(limit)
	rows, err = h.recentClientRows(limit, q)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(rows)
}

// Detail returns the full conversation view: row, ordered messages, derived
// metrics and the cached AI insights. Provider history is synced first so the
// thread shows messages the webhook may have missed.
func (h *ConversationHandler) Detail(c *fiber.Ctx) error {
	conv, err := h.store.GetConversation(c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	h.conversations.SyncConversationHistory(conv)
	if err := h.conversations.RecalcRisk(conv, time.Now().UTC()); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	client, _ := h.store.GetClient(conv.ClientID)
	var agent *models.Agent
	if conv.AssignedAgentID != nil {
		agent, _ = h.store.GetAgent(*conv.AssignedAgentID)
	}
	messages, err := h.store.GetMessagesByConversation(conv.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	messageRows := make([]fiber.Map, 0, len(messages))
	for _, msg := range messages {
		messageRows = append(messageRows, messageRow(msg))
	}

	return c.JSON(fiber.Map{
		"conversation": conversationRow(conv, client, agent, time.Now().UTC()),
		"messages":     messageRows,
		"metrics":      conversationMetrics(messages, conv),
		"insights":     conv.SummaryJSON,
	})
}

// ConversationPatchRequest is the partial-update payload for a conversation
type ConversationPatchRequest struct {
	Status          *models.ConversationStatus `json:"status"`
	AssignedAgentID *string                    `json:"assigned_agent_id"`
	Outcome         *models.Outcome            `json:"outcome"`
}

// Patch updates status, assignment or outcome. A manual move out of CLOSED
// counts as a reopen; a move into CLOSED stamps closed_at once.
func (h *ConversationHandler) Patch(c *fiber.Ctx) error {
	conv, err := h.store.GetConversation(c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	var payload ConversationPatchRequest
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid patch payload"})
	}

	if payload.AssignedAgentID != nil {
		if _, err := h.store.GetAgent(*payload.AssignedAgentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Assigned agent not found"})
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		conv.AssignedAgentID = payload.AssignedAgentID
	}

	now := time.Now().UTC()
	if payload.Status != nil {
		status := models.ConversationStatus(strings.ToUpper(string(*payload.Status)))
		if !models.ValidStatus(status) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid status"})
		}
		if status != conv.Status {
			if conv.Status == models.StatusClosed && status != models.StatusClosed {
				conv.ReopenedCount++
				conv.ClosedAt = nil
			}
			if status == models.StatusClosed && conv.ClosedAt == nil {
				closedAt := now
				conv.ClosedAt = &closedAt
			}
			conv.Status = status
		}
	}

	if payload.Outcome != nil {
		conv.Outcome = *payload.Outcome
	}

	conv.UpdatedAt = now
	if err := h.conversations.RecalcRisk(conv, now); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	client, _ := h.store.GetClient(conv.ClientID)
	var agent *models.Agent
	if conv.AssignedAgentID != nil {
		agent, _ = h.store.GetAgent(*conv.AssignedAgentID)
	}
	return c.JSON(fiber.Map{
		"ok":           true,
		"conversation": conversationRow(conv, client, agent, now),
	})
}

// AddMessageRequest records one message into an existing conversation
type AddMessageRequest struct {
	Sender            models.MessageSender `json:"sender"`
	Text              string               `json:"text"`
	TS                *time.Time           `json:"ts"`
	Provider          string               `json:"provider"`
	ProviderMessageID string               `json:"provider_message_id"`
}

// AddMessage appends a message. Agent and bot messages are first pushed to
// the provider; a failed send records nothing and returns 502, so the stored
// thread never claims a delivery that did not happen.
func (h *ConversationHandler) AddMessage(c *fiber.Ctx) error {
	conv, err := h.store.GetConversation(c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	var payload AddMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message payload"})
	}
	if !models.ValidSender(payload.Sender) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sender must be USER, BOT or AGENT"})
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message text cannot be empty"})
	}

	client, err := h.store.GetClient(conv.ClientID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Client not found"})
	}

	providerName := payload.Provider
	if providerName == "" {
		providerName = "mock"
	}
	providerMessageID := payload.ProviderMessageID

	if payload.Sender == models.SenderAgent || payload.Sender == models.SenderBot {
		if h.settings.OutboundPushEnabled {
			if h.twilio == nil {
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Messaging provider is not configured"})
			}
			sid, err := h.twilio.SendWhatsAppMessage(client.Phone, text)
			if err != nil {
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
			}
			providerName = services.ProviderName
			providerMessageID = sid
		}
	}

	ts := time.Now().UTC()
	if payload.TS != nil {
		ts = payload.TS.UTC()
	}
	message, err := h.conversations.AppendMessage(conv, payload.Sender, text, ts, providerName, providerMessageID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"conversation_id": conv.ID,
		"message_id":      message.ID,
	})
}

// AnalyzeRequest triggers AI analysis; force bypasses the cached result
type AnalyzeRequest struct {
	Force bool `json:"force"`
}

// Analyze runs the insight analysis over the last messages of the thread and
// folds the result into the conversation (sentiment, tags, cached summary).
func (h *ConversationHandler) Analyze(c *fiber.Ctx) error {
	conv, err := h.store.GetConversation(c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	var payload AnalyzeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid analyze payload"})
		}
	}

	if conv.SummaryJSON != nil && !payload.Force {
		return c.JSON(conv.SummaryJSON)
	}

	messages, err := h.store.GetMessagesByConversation(conv.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if len(messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Conversation has no messages"})
	}

	texts := make([]string, 0, len(messages))
	for _, msg := range messages {
		texts = append(texts, msg.Text)
	}
	if len(texts) > 30 {
		texts = texts[len(texts)-30:]
	}

	analysis := h.insights.AnalyzeMessages(context.Background(), texts)
	applyAnalysis(conv, analysis)

	conv.UpdatedAt = time.Now().UTC()
	if err := h.conversations.RecalcRisk(conv, conv.UpdatedAt); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(analysis)
}

// applyAnalysis copies the analysis result onto the conversation row,
// clamping tags to five and defaulting malformed sentiment to NEUTRAL/5.
func applyAnalysis(conv *models.Conversation, analysis map[string]any) {
	conv.SummaryJSON = analysis

	var tags []string
	if rawTags, ok := analysis["tags"].([]any); ok {
		for _, tag := range rawTags {
			if s, ok := tag.(string); ok {
				tags = append(tags, s)
			}
		}
	} else if stringTags, ok := analysis["tags"].([]string); ok {
		tags = append(tags, stringTags...)
	}
	if len(tags) > 5 {
		tags = tags[:5]
	}
	conv.Tags = tags

	score := 5
	switch v := analysis["sentiment_score"].(type) {
	case float64:
		score = int(v)
	case int:
		score = v
	}
	conv.SentimentScore = &score

	label := models.SentimentLabel(strings.ToUpper(stringValue(analysis["sentiment_label"])))
	switch label {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
		conv.SentimentLabel = label
	default:
		conv.SentimentLabel = models.SentimentNeutral
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func orEmptyList(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
