package models

import (
	"time"

	"gorm.io/gorm"
)

// ProjectSetting is one key/value row of the live publishing configuration
// (credentials, safe mode, proxy). The dispatcher reads all active rows for a
// project into an immutable snapshot per dispatch.
type ProjectSetting struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ProjectKey string         `gorm:"size:100;not null;uniqueIndex:idx_project_setting_key" json:"project_key"`
	Key        string         `gorm:"size:100;not null;uniqueIndex:idx_project_setting_key" json:"key"`
	Value      string         `gorm:"type:text" json:"value"`
	IsActive   bool           `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}
