package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageSender identifies who wrote a message
type MessageSender string

const (
	SenderUser  MessageSender = "USER"
	SenderBot   MessageSender = "BOT"
	SenderAgent MessageSender = "AGENT"
)

// ValidSender reports whether s is a known sender role
func ValidSender(s MessageSender) bool {
	return s == SenderUser || s == SenderBot || s == SenderAgent
}

// Message is an immutable chat message inside a conversation.
// Ordering key is TS, tie-broken by insertion order.
type Message struct {
	ID                string        `gorm:"primaryKey" json:"id"`
	ConversationID    string        `gorm:"index;not null" json:"conversation_id"`
	Sender            MessageSender `gorm:"not null" json:"sender"`
	Text              string        `gorm:"not null" json:"text"`
	TS                time.Time     `gorm:"index;column:ts" json:"ts"`
	OutOfHours        bool          `gorm:"default:false" json:"out_of_hours"`
	Provider          string        `gorm:"default:'mock'" json:"provider"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
