package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "lonelycare", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "postgres", cfg.Presence.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.Presence.StoreTimeout)
	assert.Equal(t, "presence:", cfg.Presence.Cache.KeyPrefix)
	assert.Equal(t, "presence:security:logs", cfg.Presence.Cache.SecurityLogStream)
	assert.Equal(t, 5*time.Minute, cfg.Presence.SchedulerInterval)
	assert.Equal(t, "database", cfg.Presence.Thresholds.Source)
	assert.Equal(t, 5*time.Minute, cfg.Presence.Thresholds.RefreshInterval)
	assert.Equal(t, "lonelycare/+/heartbeat", cfg.Presence.HeartbeatTopic)
	assert.True(t, cfg.Presence.MQTTEnabled)

	assert.Equal(t, []string{"push", "mqtt"}, cfg.Notifier.Backends)
	assert.Equal(t, 24*time.Hour, cfg.Notifier.ReportCooldown)
	assert.Empty(t, cfg.Emergency.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Emergency.Timeout)
	assert.Empty(t, cfg.Presence.FriendsFile)
	assert.Equal(t, 10*time.Second, cfg.Notifier.Timeout)
	assert.True(t, cfg.HasNotifier("mqtt"))

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "", cfg.Log.File)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_NAME", "test-db")
	t.Setenv("REDIS_ADDR", "test-redis:6380")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("SCHEDULER_INTERVAL", "30s")
	t.Setenv("NOTIFIER_BACKENDS", " push ")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/var/log/presence.log")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("EMERGENCY_BASE_URL", "https://119.example.org")
	t.Setenv("EMERGENCY_REPORT_COOLDOWN", "12h")
	t.Setenv("FRIENDS_FILE", "/etc/lonelycare/friends.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "redis", cfg.Presence.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.Presence.SchedulerInterval)
	assert.Equal(t, []string{"push"}, cfg.Notifier.Backends)
	assert.False(t, cfg.HasNotifier("mqtt"))
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/presence.log", cfg.Log.File)
	assert.False(t, cfg.Presence.MQTTEnabled)
	assert.Equal(t, "https://119.example.org", cfg.Emergency.BaseURL)
	assert.Equal(t, 12*time.Hour, cfg.Notifier.ReportCooldown)
	assert.Equal(t, "/etc/lonelycare/friends.yaml", cfg.Presence.FriendsFile)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "fast")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_TIMEOUT")
}

func TestLoad_NonPositiveDuration(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "0s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_UnsupportedStoreBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}
