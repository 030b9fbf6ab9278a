package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, int64(100000), config.Harvest.TargetRecords)
	assert.Equal(t, "universe.db", config.Store.DSN)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging: debug
store:
  driver: postgres
  dsn: postgres://harvester@localhost:5432/harvester
harvest:
  targetRecords: 500
  pageSize: 25
  className: SLSN
  pageDelay: 500ms
redis:
  url: redis://localhost:6379/0
scheduler:
  schedule: "@every 6h"
`), 0o600))

	config, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "debug", config.Logging)
	assert.Equal(t, "postgres", config.Store.Driver)
	assert.Equal(t, int64(500), config.Harvest.TargetRecords)
	assert.Equal(t, 25, config.Harvest.PageSize)
	assert.Equal(t, "SLSN", config.Harvest.ClassName)
	assert.Equal(t, "stamp_classifier", config.Harvest.Classifier, "unset keys keep their defaults")
	assert.Equal(t, 500*time.Millisecond, config.Harvest.PageDelay)
	assert.Equal(t, 30*time.Second, config.Redis.TTL)
	assert.True(t, config.Scheduler.RunOnStart)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("harvest: [unterminated"), 0o600))

	_, err := loadConfig(path)
	assert.Error(t, err)
}
