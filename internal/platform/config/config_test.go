package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, 10, cfg.Sync.Limit)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Empty(t, cfg.Database.DSN)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.True(t, cfg.UsesDevAdminKey())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("FEED_BASE_URL", "http://indexer.local")
	t.Setenv("SYNC_INTERVAL", "2s")
	t.Setenv("SYNC_EVENT_TYPES", "NAME_LISTED, NAME_PURCHASED")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SERVER_ADMIN_JWT_KEY", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://indexer.local", cfg.Feed.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Sync.Interval)
	assert.Equal(t, []string{"NAME_LISTED", "NAME_PURCHASED"}, cfg.Sync.EventTypes)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.UsesDevAdminKey())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domamart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feed:
  base_url: http://from-file
notify:
  interval: 250ms
sync:
  event_types: [NAME_OFFER_MADE]
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("NOTIFY_INTERVAL", "1s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://from-file", cfg.Feed.BaseURL)
	assert.Equal(t, time.Second, cfg.Notify.Interval, "env beats file")
	assert.Equal(t, []string{"NAME_OFFER_MADE"}, cfg.Sync.EventTypes)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SYNC_INTERVAL", "0s")
	t.Setenv("FEED_BASE_URL", "")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "sync.interval must be positive")
}
