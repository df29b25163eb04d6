package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PublishRecipe is scheduling configuration, not a job: it says that a
// platform publishes DelayHours after the main (anchor) platform. At most one
// active recipe is main.
type PublishRecipe struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	Platform   Platform       `gorm:"size:20;not null;uniqueIndex" json:"platform"`
	IsActive   bool           `gorm:"default:true" json:"is_active"`
	IsMain     bool           `gorm:"default:false" json:"is_main"`
	DelayHours int            `gorm:"default:0" json:"delay_hours"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (r *PublishRecipe) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
