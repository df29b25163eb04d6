package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 5336, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "ainews", cfg.Project.Key)
	assert.Equal(t, "1m", cfg.Scheduler.PollInterval)
	assert.Equal(t, 1, cfg.Scheduler.MaxPerPlatform)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := `
server:
  port: 9000
database:
  type: sqlite
  path: /tmp/test.db
project:
  key: myproj
scheduler:
  poll_interval: 30s
  enabled: true
  max_per_platform: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "myproj", cfg.Project.Key)
	assert.Equal(t, "30s", cfg.Scheduler.PollInterval)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 3, cfg.Scheduler.MaxPerPlatform)
}
