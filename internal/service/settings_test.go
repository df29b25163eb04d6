package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/models"
)

func TestSnapshotFiltersProjectAndActive(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettingsService(db, "testproj", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, db.Create(&models.ProjectSetting{
		ProjectKey: "testproj", Key: "telegram_bot_token", Value: "tok", IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&models.ProjectSetting{
		ProjectKey: "testproj", Key: "retired", Value: "old", IsActive: false,
	}).Error)
	require.NoError(t, db.Create(&models.ProjectSetting{
		ProjectKey: "otherproj", Key: "vk_access_token", Value: "foreign", IsActive: true,
	}).Error)

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, "tok", snapshot.Get("telegram_bot_token"))
	assert.Equal(t, "", snapshot.Get("retired"))
	assert.Equal(t, "", snapshot.Get("vk_access_token"))
}

func TestSetUpserts(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettingsService(db, "testproj", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "safe_publish_mode", "true"))
	require.NoError(t, svc.Set(ctx, "safe_publish_mode", "false"))

	var rows []models.ProjectSetting
	require.NoError(t, db.Where("project_key = ?", "testproj").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "false", rows[0].Value)

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snapshot.GetBool("safe_publish_mode"))
}
