package handlers

import (
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/services"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

// DashboardHandler builds the operational summary the control tower renders
type DashboardHandler struct {
	store         storage.Store
	conversations *services.ConversationService
}

func NewDashboardHandler(store storage.Store, conversations *services.ConversationService) *DashboardHandler {
	return &DashboardHandler{store: store, conversations: conversations}
}

// Summary returns KPI cards, the at-risk table, funnel counts, agent ranking
// and hourly message volume in one payload.
func (h *DashboardHandler) Summary(c *fiber.Ctx) error {
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
	messages, err := h.store.GetAllMessages()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	today := now.Truncate(24 * time.Hour)
	yesterday := today.Add(-24 * time.Hour)
	newToday, newYesterday := 0, 0
	var backlog, atRisk []*models.Conversation
	for _, conv := range conversations {
		created := conv.CreatedAt.Truncate(24 * time.Hour)
		if created.Equal(today) {
			newToday++
		}
		if created.Equal(yesterday) {
			newYesterday++
		}
		if conv.Status != models.StatusClosed {
			backlog = append(backlog, conv)
		}
		if conv.RiskFlag {
			atRisk = append(atRisk, conv)
		}
	}

	var frtValues []int
	repliedCount, slaHits := 0, 0
	for _, conv := range conversations {
		if frt := services.FRTMinutes(*conv); frt != nil {
			frtValues = append(frtValues, *frt)
			repliedCount++
			if *frt <= services.SLAFirstReplyMinutes {
				slaHits++
			}
		}
	}
	frtMedian := medianOfInts(frtValues)
	slaCompliance := 0.0
	if repliedCount > 0 {
		slaCompliance = round2(float64(slaHits) / float64(repliedCount) * 100)
	}

	analyzedCount, negativeCount := 0, 0
	for _, conv := range conversations {
		if conv.SentimentLabel != "" {
			analyzedCount++
			if conv.SentimentLabel == models.SentimentNegative {
				negativeCount++
			}
		}
	}
	negativeRate := 0.0
	if analyzedCount > 0 {
		negativeRate = round2(float64(negativeCount) / float64(analyzedCount) * 100)
	}

	reasonCounts := make(map[string]int)
	for _, conv := range atRisk {
		for _, reason := range conv.RiskReasons {
			reasonCounts[reason]++
		}
	}
	reasonSplit := topCounts(reasonCounts, 5, "reason")

	tagCounts := make(map[string]int)
	for _, conv := range conversations {
		if conv.SentimentLabel == models.SentimentNegative || conv.Outcome == models.OutcomeLost {
			for _, tag := range conv.Tags {
				tagCounts[tag]++
			}
		}
	}

	funnel := statusFunnel(conversations)
	backlogBreakdown := fiber.Map{}
	for status, count := range funnel {
		if status != string(models.StatusClosed) && count > 0 {
			backlogBreakdown[status] = count
		}
	}

	userMessages, outOfHoursCount := 0, 0
	for _, msg := range messages {
		if msg.Sender != models.SenderUser {
			continue
		}
		userMessages++
		if msg.OutOfHours {
			outOfHoursCount++
		}
	}
	outOfHoursRate := 0.0
	if userMessages > 0 {
		outOfHoursRate = round2(float64(outOfHoursCount) / float64(userMessages) * 100)
	}

	slaBadge := "ALERTA"
	if frtMedian != nil && *frtMedian <= float64(services.SLAFirstReplyMinutes) {
		slaBadge = "OK"
	}

	topCards := []fiber.Map{
		{
			"kpi_id":             "KPI_NEW_TODAY",
			"label":              "Conversaciones nuevas (hoy)",
			"value":              newToday,
			"delta_vs_yesterday": newToday - newYesterday,
		},
		{
			"kpi_id":              "KPI_BACKLOG_PENDING",
			"label":               "Pendientes (Backlog)",
			"value":               len(backlog),
			"breakdown_by_status": backlogBreakdown,
		},
		{
			"kpi_id":       "KPI_AT_RISK",
			"label":        "En riesgo",
			"value":        len(atRisk),
			"reason_split": reasonSplit,
		},
		{
			"kpi_id":        "KPI_FRT_MEDIAN",
			"label":         "Primera respuesta (mediana)",
			"value_minutes": frtMedian,
			"sla_minutes":   services.SLAFirstReplyMinutes,
			"sla_badge":     slaBadge,
		},
		{
			"kpi_id":    "KPI_SLA_COMPLIANCE",
			"label":     "% Cumplimiento SLA",
			"value_pct": slaCompliance,
		},
		{
			"kpi_id":    "KPI_NEGATIVE_RATE",
			"label":     "% Sentimiento negativo",
			"value_pct": negativeRate,
		},
	}

	return c.JSON(fiber.Map{
		"top_cards":         topCards,
		"at_risk_table":     atRiskTable(conversations, clientsMap, agentsMap, now),
		"top_fail_tags":     topCounts(tagCounts, 5, "tag"),
		"status_funnel":     funnel,
		"agent_ranking":     agentRanking(conversations, agentsMap),
		"out_of_hours_rate": outOfHoursRate,
		"messages_by_hour":  messagesByHour(messages),
	})
}

func statusFunnel(conversations []*models.Conversation) map[string]int {
	funnel := map[string]int{
		string(models.StatusNew):          0,
		string(models.StatusContacted):    0,
		string(models.StatusInterested):   0,
		string(models.StatusNegotiation):  0,
		string(models.StatusReengagement): 0,
		string(models.StatusSupport):      0,
		string(models.StatusClosed):       0,
	}
	for _, conv := range conversations {
		funnel[string(conv.Status)]++
	}
	return funnel
}

// atRiskTable lists the flagged conversations ordered by priority, longest
// customer wait first within the same priority. Capped at 25 rows.
func atRiskTable(conversations []*models.Conversation, clientsMap map[string]*models.Client,
	agentsMap map[string]*models.Agent, now time.Time) []fiber.Map {

	type riskRow struct {
		row      fiber.Map
		priority int
		waiting  int
	}

	var rows []riskRow
	for _, conv := range conversations {
		if !conv.RiskFlag {
			continue
		}

		clientName, clientPhone := "N/A", ""
		if client := clientsMap[conv.ClientID]; client != nil {
			clientName, clientPhone = client.Name, client.Phone
		}
		var agentName *string
		if conv.AssignedAgentID != nil {
			if agent := agentsMap[*conv.AssignedAgentID]; agent != nil {
				agentName = &agent.Name
			}
		}

		sentiment := "UNKNOWN"
		if conv.SentimentLabel != "" {
			sentiment = string(conv.SentimentLabel)
		}
		motivo := ""
		if len(conv.Tags) > 0 {
			motivo = conv.Tags[0]
		} else if len(conv.RiskReasons) > 0 {
			motivo = conv.RiskReasons[0]
		}

		waiting := 0
		minutes := services.MinutesWithoutReply(*conv, now)
		if minutes != nil {
			waiting = *minutes
		}
		priority := services.PriorityScore(*conv)

		rows = append(rows, riskRow{
			priority: priority,
			waiting:  waiting,
			row: fiber.Map{
				"conversation_id":   conv.ID,
				"cliente":           clientName,
				"telefono":          clientPhone,
				"estado":            conv.Status,
				"agente":            agentName,
				"min_sin_respuesta": minutes,
				"sentimiento":       sentiment,
				"motivo_tag":        motivo,
				"accion":            "abrir",
				"priority_score":    priority,
			},
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].priority != rows[j].priority {
			return rows[i].priority > rows[j].priority
		}
		return rows[i].waiting > rows[j].waiting
	})
	if len(rows) > 25 {
		rows = rows[:25]
	}

	result := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.row)
	}
	return result
}

// agentRanking scores every agent over their assigned conversations, worst
// quality first so coaching attention goes where it is needed.
func agentRanking(conversations []*models.Conversation, agentsMap map[string]*models.Agent) []fiber.Map {
	type rankedRow struct {
		row     fiber.Map
		quality float64
	}

	var rows []rankedRow
	for _, agent := range agentsMap {
		var assigned []*models.Conversation
		for _, conv := range conversations {
			if conv.AssignedAgentID != nil && *conv.AssignedAgentID == agent.ID {
				assigned = append(assigned, conv)
			}
		}

		var frtValues []int
		slaHits := 0
		for _, conv := range assigned {
			if frt := services.FRTMinutes(*conv); frt != nil {
				frtValues = append(frtValues, *frt)
				if *frt <= services.SLAFirstReplyMinutes {
					slaHits++
				}
			}
		}
		frtMedian := medianOfInts(frtValues)
		slaCompliance := 0.0
		if len(frtValues) > 0 {
			slaCompliance = round2(float64(slaHits) / float64(len(frtValues)) * 100)
		}

		backlog := 0
		analyzed, negative := 0, 0
		closed, reopened := 0, 0
		overdue := 0
		for _, conv := range assigned {
			if conv.Status != models.StatusClosed {
				backlog++
			}
			if conv.SentimentLabel != "" {
				analyzed++
				if conv.SentimentLabel == models.SentimentNegative {
					negative++
				}
			}
			if conv.ClosedAt != nil || conv.Status == models.StatusClosed {
				closed++
				if conv.ReopenedCount > 0 {
					reopened++
				}
			}
			for _, reason := range conv.RiskReasons {
				if reason == services.ReasonNoFirstReply || reason == services.ReasonStaleFollowUp {
					overdue++
					break
				}
			}
		}

		negativeRate, reopenRate, overdueRate, frtRatio := 0.0, 0.0, 0.0, 0.0
		if analyzed > 0 {
			negativeRate = float64(negative) / float64(analyzed)
		}
		if closed > 0 {
			reopenRate = float64(reopened) / float64(closed)
		}
		if len(assigned) > 0 {
			overdueRate = float64(overdue) / float64(len(assigned))
			if frtMedian != nil {
				frtRatio = *frtMedian / float64(services.SLAFirstReplyMinutes)
			} else {
				frtRatio = 1.0
			}
		}
		quality := round2(services.ComputeQualityScore(overdueRate, negativeRate, reopenRate, frtRatio))

		rows = append(rows, rankedRow{
			quality: quality,
			row: fiber.Map{
				"agent_id":         agent.ID,
				"agente":           agent.Name,
				"sla_compliance":   slaCompliance,
				"frt_median":       frtMedian,
				"backlog_asignado": backlog,
				"negative_rate":    round2(negativeRate * 100),
				"reopen_rate":      round2(reopenRate * 100),
				"quality_score":    quality,
			},
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].quality < rows[j].quality
	})

	result := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.row)
	}
	return result
}

// messagesByHour counts inbound user messages per hour of day, all 24 slots
func messagesByHour(messages []*models.Message) []fiber.Map {
	counts := make(map[int]int)
	for _, msg := range messages {
		if msg.Sender == models.SenderUser {
			counts[msg.TS.Hour()]++
		}
	}
	rows := make([]fiber.Map, 0, 24)
	for hour := 0; hour < 24; hour++ {
		rows = append(rows, fiber.Map{"hour": hour, "count": counts[hour]})
	}
	return rows
}

// topCounts returns the n highest counts as {key, "count"} rows, ties broken
// alphabetically for stable output.
func topCounts(counts map[string]int, n int, keyName string) []fiber.Map {
	type pair struct {
		key   string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for key, count := range counts {
		pairs = append(pairs, pair{key, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].key < pairs[j].key
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	rows := make([]fiber.Map, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, fiber.Map{keyName: p.key, "count": p.count})
	}
	return rows
}

// medianOfInts is the statistical median rounded to two decimals, nil for an
// empty sample.
func medianOfInts(values []int) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		median = float64(sorted[mid])
	} else {
		median = float64(sorted[mid-1]+sorted[mid]) / 2
	}
	median = round2(median)
	return &median
}
