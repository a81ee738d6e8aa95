package services

import (
	"time"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

// SLA thresholds in minutes
const (
	SLAFirstReplyMinutes      = 10
	SLAOverdueNewMinutes      = 15
	SLAOverdueFollowUpMinutes = 60
)

// Risk reason codes, surfaced verbatim to the dashboard
const (
	ReasonNoFirstReply      = "Sin primera respuesta"
	ReasonStaleFollowUp     = "Seguimiento congelado"
	ReasonNegativeSentiment = "Sentimiento negativo"
	ReasonReopened          = "Caso reabierto"
)

// priorityTag adds weight for paying customers
const priorityTag = "plan_pro"

// RiskAssessment is the scorer output. It is cached on the conversation row
// for read efficiency but always reproducible from the aggregate + now.
type RiskAssessment struct {
	RiskFlag      bool     `json:"riskFlag"`
	RiskReasons   []string `json:"riskReasons"`
	PriorityScore int      `json:"priorityScore"`
}

// AssessRisk evaluates every SLA/quality condition against the aggregate at
// the given instant. Pure: no store access, no clock access.
func AssessRisk(conv models.Conversation, now time.Time) RiskAssessment {
	var reasons []string

	if conv.FirstUserMessageAt != nil && conv.FirstAgentReplyAt == nil {
		if now.Sub(*conv.FirstUserMessageAt) > SLAOverdueNewMinutes*time.Minute {
			reasons = append(reasons, ReasonNoFirstReply)
		}
	}

	if statusNeedsFollowUp(conv.Status) && conv.LastAgentReplyAt != nil {
		if now.Sub(*conv.LastAgentReplyAt) > SLAOverdueFollowUpMinutes*time.Minute {
			reasons = append(reasons, ReasonStaleFollowUp)
		}
	}

	if conv.SentimentLabel == models.SentimentNegative {
		reasons = append(reasons, ReasonNegativeSentiment)
	}

	if conv.ReopenedCount > 0 {
		reasons = append(reasons, ReasonReopened)
	}

	score := 0
	if contains(reasons, ReasonNoFirstReply) || contains(reasons, ReasonStaleFollowUp) {
		score += 40
	}
	if conv.SentimentLabel == models.SentimentNegative {
		score += 30
	}
	if conv.ReopenedCount > 0 {
		score += 20
	}
	if conv.HasTag(priorityTag) {
		score += 10
	}

	return RiskAssessment{
		RiskFlag:      len(reasons) > 0,
		RiskReasons:   reasons,
		PriorityScore: score,
	}
}

func statusNeedsFollowUp(status models.ConversationStatus) bool {
	switch status {
	case models.StatusContacted, models.StatusInterested, models.StatusNegotiation,
		models.StatusReengagement, models.StatusSupport:
		return true
	}
	return false
}

// PriorityScore derives the priority from the cached reasons on the row,
// without re-evaluating the time-based conditions.
func PriorityScore(conv models.Conversation) int {
	score := 0
	if contains(conv.RiskReasons, ReasonNoFirstReply) || contains(conv.RiskReasons, ReasonStaleFollowUp) {
		score += 40
	}
	if conv.SentimentLabel == models.SentimentNegative {
		score += 30
	}
	if conv.ReopenedCount > 0 {
		score += 20
	}
	if conv.HasTag(priorityTag) {
		score += 10
	}
	return score
}

// ComputeQualityScore folds an agent's rates into a 0-100 composite.
// Each rate is a 0-1 fraction over the agent's assigned conversations;
// frtRatio is median first-reply minutes over the SLA target.
func ComputeQualityScore(overdueRate, negativeRate, reopenRate, frtRatio float64) float64 {
	score := 100.0 - (40*overdueRate + 30*negativeRate + 20*reopenRate + 10*frtRatio)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// MinutesBetween floors elapsed milliseconds to whole minutes, clamped so
// disagreeing clocks never produce a negative duration. Nil when either
// endpoint is missing.
func MinutesBetween(earlier, later *time.Time) *int {
	if earlier == nil || later == nil {
		return nil
	}
	minutes := int(later.Sub(*earlier).Milliseconds() / 60_000)
	if minutes < 0 {
		minutes = 0
	}
	return &minutes
}

// FRTMinutes is the first-reply time of the conversation, nil before a reply
func FRTMinutes(conv models.Conversation) *int {
	return MinutesBetween(conv.FirstUserMessageAt, conv.FirstAgentReplyAt)
}

// MinutesWithoutReply is how long the client has waited since the last agent
// reply (or, before any reply, since their first message).
func MinutesWithoutReply(conv models.Conversation, now time.Time) *int {
	anchor := conv.LastAgentReplyAt
	if anchor == nil {
		anchor = conv.FirstUserMessageAt
	}
	if anchor == nil {
		return nil
	}
	return MinutesBetween(anchor, &now)
}

// IsOutOfHours checks the timestamp against the fixed weekly business-hours
// calendar: closed Sundays, Saturdays outside 8-13h, weekdays outside 8-18h.
func IsOutOfHours(ts time.Time) bool {
	hour := ts.Hour()
	switch ts.Weekday() {
	case time.Sunday:
		return true
	case time.Saturday:
		return hour < 8 || hour >= 13
	default:
		return hour < 8 || hour >= 18
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
