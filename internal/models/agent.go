package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Agent is a human agent conversations can be assigned to
type Agent struct {
	ID     string `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"not null" json:"name"`
	Active bool   `gorm:"default:true" json:"active"`
}

func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
