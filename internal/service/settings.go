package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avbelov/fanout/internal/models"
	"github.com/avbelov/fanout/internal/service/publisher"
)

// SettingsService reads and writes the project's flat key/value publishing
// configuration. Dispatches never read rows directly; they take one snapshot
// up front so a mid-flight edit cannot split a publish across two configs.
type SettingsService struct {
	db         *gorm.DB
	projectKey string
	logger     *zap.Logger
}

func NewSettingsService(db *gorm.DB, projectKey string, logger *zap.Logger) *SettingsService {
	return &SettingsService{db: db, projectKey: projectKey, logger: logger}
}

// Snapshot loads every active setting row for the project into an immutable
// map.
func (s *SettingsService) Snapshot(ctx context.Context) (publisher.Settings, error) {
	var rows []models.ProjectSetting
	err := s.db.WithContext(ctx).
		Where("project_key = ? AND is_active = ?", s.projectKey, true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	snapshot := make(publisher.Settings, len(rows))
	for _, row := range rows {
		snapshot[row.Key] = row.Value
	}
	return snapshot, nil
}

func (s *SettingsService) List(ctx context.Context) ([]models.ProjectSetting, error) {
	var rows []models.ProjectSetting
	err := s.db.WithContext(ctx).
		Where("project_key = ?", s.projectKey).
		Order("key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return rows, nil
}

// Set upserts one setting row for the project.
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	row := models.ProjectSetting{
		ProjectKey: s.projectKey,
		Key:        key,
		Value:      value,
		IsActive:   true,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_key"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "is_active", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	s.logger.Info("Setting updated", zap.String("key", key))
	return nil
}
