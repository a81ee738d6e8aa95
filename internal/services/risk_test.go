package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

func tsPtr(t time.Time) *time.Time {
	return &t
}

func TestAssessRiskNoFirstReply(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		Status:             models.StatusNew,
		FirstUserMessageAt: tsPtr(now.Add(-20 * time.Minute)),
	}

	assessment := AssessRisk(conv, now)
	assert.True(t, assessment.RiskFlag)
	assert.Contains(t, assessment.RiskReasons, ReasonNoFirstReply)
	assert.GreaterOrEqual(t, assessment.PriorityScore, 40)
}

func TestAssessRiskWithinSLAIsClean(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		Status:             models.StatusNew,
		FirstUserMessageAt: tsPtr(now.Add(-5 * time.Minute)),
	}

	assessment := AssessRisk(conv, now)
	assert.False(t, assessment.RiskFlag)
	assert.Empty(t, assessment.RiskReasons)
	assert.Equal(t, 0, assessment.PriorityScore)
}

func TestAssessRiskStaleFollowUp(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		Status:             models.StatusNegotiation,
		FirstUserMessageAt: tsPtr(now.Add(-3 * time.Hour)),
		FirstAgentReplyAt:  tsPtr(now.Add(-170 * time.Minute)),
		LastAgentReplyAt:   tsPtr(now.Add(-90 * time.Minute)),
	}

	assessment := AssessRisk(conv, now)
	assert.True(t, assessment.RiskFlag)
	assert.Contains(t, assessment.RiskReasons, ReasonStaleFollowUp)
}

func TestAssessRiskStaleFollowUpNotOnClosed(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		Status:             models.StatusClosed,
		FirstUserMessageAt: tsPtr(now.Add(-3 * time.Hour)),
		FirstAgentReplyAt:  tsPtr(now.Add(-170 * time.Minute)),
		LastAgentReplyAt:   tsPtr(now.Add(-90 * time.Minute)),
	}

	assessment := AssessRisk(conv, now)
	assert.NotContains(t, assessment.RiskReasons, ReasonStaleFollowUp)
}

func TestAssessRiskSentimentAndReopen(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		Status:         models.StatusSupport,
		SentimentLabel: models.SentimentNegative,
		ReopenedCount:  1,
	}

	assessment := AssessRisk(conv, now)
	assert.True(t, assessment.RiskFlag)
	assert.Contains(t, assessment.RiskReasons, ReasonNegativeSentiment)
	assert.Contains(t, assessment.RiskReasons, ReasonReopened)
	// 30 for sentiment + 20 for reopen, no SLA breach
	assert.Equal(t, 50, assessment.PriorityScore)
}

func TestAssessRiskPriorityTag(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		Status:             models.StatusNew,
		FirstUserMessageAt: tsPtr(now.Add(-20 * time.Minute)),
		SentimentLabel:     models.SentimentNegative,
		ReopenedCount:      2,
		Tags:               []string{"precio", "plan_pro"},
	}

	assessment := AssessRisk(conv, now)
	assert.Equal(t, 100, assessment.PriorityScore)
}

func TestPriorityScoreFromCachedReasons(t *testing.T) {
	conv := models.Conversation{
		RiskReasons:    []string{ReasonStaleFollowUp},
		SentimentLabel: models.SentimentNegative,
	}
	assert.Equal(t, 70, PriorityScore(conv))
}

func TestComputeQualityScoreClamped(t *testing.T) {
	assert.Equal(t, 100.0, ComputeQualityScore(0, 0, 0, 0))
	assert.Equal(t, 0.0, ComputeQualityScore(1, 1, 1, 10))
	assert.InDelta(t, 55.0, ComputeQualityScore(0.5, 0.5, 0.5, 0), 0.001)
}

func TestMinutesBetween(t *testing.T) {
	start := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	end := start.Add(90 * time.Second)
	got := MinutesBetween(&start, &end)
	if assert.NotNil(t, got) {
		assert.Equal(t, 1, *got)
	}

	// Disagreeing clocks clamp to zero instead of going negative
	before := start.Add(-10 * time.Minute)
	got = MinutesBetween(&start, &before)
	if assert.NotNil(t, got) {
		assert.Equal(t, 0, *got)
	}

	assert.Nil(t, MinutesBetween(nil, &end))
	assert.Nil(t, MinutesBetween(&start, nil))
}

func TestMinutesWithoutReplyAnchors(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	// Before any reply the anchor is the first user message
	conv := models.Conversation{FirstUserMessageAt: tsPtr(now.Add(-30 * time.Minute))}
	got := MinutesWithoutReply(conv, now)
	if assert.NotNil(t, got) {
		assert.Equal(t, 30, *got)
	}

	// After a reply the anchor moves to the last agent reply
	conv.LastAgentReplyAt = tsPtr(now.Add(-5 * time.Minute))
	got = MinutesWithoutReply(conv, now)
	if assert.NotNil(t, got) {
		assert.Equal(t, 5, *got)
	}

	assert.Nil(t, MinutesWithoutReply(models.Conversation{}, now))
}

func TestIsOutOfHours(t *testing.T) {
	// 2024-03-03 is a Sunday, 2024-03-02 a Saturday, 2024-03-05 a Tuesday
	assert.True(t, IsOutOfHours(time.Date(2024, 3, 3, 11, 0, 0, 0, time.UTC)))

	assert.False(t, IsOutOfHours(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)))
	assert.True(t, IsOutOfHours(time.Date(2024, 3, 2, 13, 0, 0, 0, time.UTC)))
	assert.True(t, IsOutOfHours(time.Date(2024, 3, 2, 7, 59, 0, 0, time.UTC)))

	assert.False(t, IsOutOfHours(time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)))
	assert.False(t, IsOutOfHours(time.Date(2024, 3, 5, 17, 59, 0, 0, time.UTC)))
	assert.True(t, IsOutOfHours(time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC)))
	assert.True(t, IsOutOfHours(time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)))
}
