package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PARKING_CONFIG",
	"PARKING_HTTP_PORT",
	"PARKING_DATABASE_PATH",
	"PARKING_LOG_LEVEL",
	"PARKING_STORE_TIMEOUT",
	"PARKING_CURRENCY",
	"PARKING_INSTANCE_ID",
	"PARKING_NODE_ID",
	"PARKING_MQTT_BROKER",
	"PARKING_MQTT_PREFIX",
	"PARKING_REDIS_URL",
	"PARKING_MDNS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "data/parking.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, "COP", cfg.Currency)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.Equal(t, "parking", cfg.MQTTTopicPrefix)
	assert.Empty(t, cfg.MQTTBrokerURL)
	assert.Empty(t, cfg.RedisURL)
	assert.False(t, cfg.MDNSEnabled)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "parking.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9000
  log_level: debug
  instance_id: gate-north
  node_id: 7
  mdns: true
  store_timeout: 5s
storage:
  database_path: /var/lib/parking/lot.db
billing:
  currency: USD
sync:
  mqtt_broker_url: tcp://broker:1883
  redis_url: redis://cache:6379/0
`), 0o600))

	t.Setenv("PARKING_CONFIG", path)
	t.Setenv("PARKING_HTTP_PORT", "9100")
	t.Setenv("PARKING_MQTT_PREFIX", "lot-a")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "gate-north", cfg.InstanceID)
	assert.Equal(t, int64(7), cfg.NodeID)
	assert.True(t, cfg.MDNSEnabled)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, "/var/lib/parking/lot.db", cfg.DatabasePath)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBrokerURL)
	assert.Equal(t, "lot-a", cfg.MQTTTopicPrefix)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := map[string]string{
		"PARKING_HTTP_PORT":     "eighty",
		"PARKING_STORE_TIMEOUT": "soon",
		"PARKING_NODE_ID":       "x",
		"PARKING_MDNS":          "maybe",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidateRanges(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARKING_HTTP_PORT", "70000")
	t.Setenv("PARKING_NODE_ID", "2048")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http port")
	assert.Contains(t, err.Error(), "node id")
}

func TestMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARKING_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}
