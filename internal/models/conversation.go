package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationStatus is the funnel stage of a conversation
type ConversationStatus string

const (
	StatusNew          ConversationStatus = "NEW"          // Nuevo lead
	StatusContacted    ConversationStatus = "CONTACTED"    // Contactado
	StatusInterested   ConversationStatus = "INTERESTED"   // Interesado
	StatusNegotiation  ConversationStatus = "NEGOTIATION"  // En negociacion
	StatusClosed       ConversationStatus = "CLOSED"       // Cerrado
	StatusSupport      ConversationStatus = "SUPPORT"      // Soporte
	StatusReengagement ConversationStatus = "REENGAGEMENT" // Reenganche / follow-up
)

// ValidStatus reports whether s is one of the known funnel stages
func ValidStatus(s ConversationStatus) bool {
	switch s {
	case StatusNew, StatusContacted, StatusInterested, StatusNegotiation,
		StatusClosed, StatusSupport, StatusReengagement:
		return true
	}
	return false
}

// Outcome is the commercial result of a closed conversation
type Outcome string

const (
	OutcomeUnknown     Outcome = "UNKNOWN"
	OutcomeWon         Outcome = "WON"
	OutcomeLost        Outcome = "LOST"
	OutcomeUnqualified Outcome = "UNQUALIFIED"
)

// SentimentLabel is the coarse sentiment bucket from the insights analysis
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "POSITIVE"
	SentimentNeutral  SentimentLabel = "NEUTRAL"
	SentimentNegative SentimentLabel = "NEGATIVE"
)

// Conversation is one open-or-closed thread with a client.
// Risk flag and reasons are a cache of the scorer output, never authoritative.
type Conversation struct {
	ID                 string             `gorm:"primaryKey" json:"id"`
	ClientID           string             `gorm:"index;not null" json:"client_id"`
	Status             ConversationStatus `gorm:"default:'NEW'" json:"status"`
	AssignedAgentID    *string            `gorm:"index" json:"assigned_agent_id,omitempty"`
	Outcome            Outcome            `gorm:"default:'UNKNOWN'" json:"outcome"`
	CreatedAt          time.Time          `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	ClosedAt           *time.Time         `json:"closed_at,omitempty"`
	ReopenedCount      int                `gorm:"default:0" json:"reopened_count"`
	LastMessageAt      time.Time          `gorm:"index" json:"last_message_at"`
	FirstUserMessageAt *time.Time         `json:"first_user_message_at,omitempty"`
	FirstAgentReplyAt  *time.Time         `json:"first_agent_reply_at,omitempty"`
	LastAgentReplyAt   *time.Time         `json:"last_agent_reply_at,omitempty"`
	SummaryJSON        map[string]any     `gorm:"serializer:json" json:"summary_json,omitempty"`
	SentimentLabel     SentimentLabel     `json:"sentiment_label,omitempty"`
	SentimentScore     *int               `json:"sentiment_score,omitempty"`
	Tags               []string           `gorm:"serializer:json" json:"tags,omitempty"`
	RiskFlag           bool               `gorm:"default:false" json:"risk_flag"`
	RiskReasons        []string           `gorm:"serializer:json" json:"risk_reasons,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// HasTag reports whether the conversation carries the given insight tag
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
