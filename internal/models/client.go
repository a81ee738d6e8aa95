package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client is a WhatsApp contact, keyed by the normalized digits-only phone (wa_id)
type Client struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Phone     string    `gorm:"uniqueIndex;not null" json:"phone"`
	Company   string    `json:"company,omitempty"`
	City      string    `gorm:"default:'Cucuta'" json:"city"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
