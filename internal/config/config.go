package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/consil800/lonely-care-sub004/common/config"
)

// Config 在线状态与升级服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Push     config.PushGatewayConfig
	// Emergency 紧急服务网关（119 上报），BaseURL 为空时不上报
	Emergency config.PushGatewayConfig

	// 在线状态服务特定配置
	Presence struct {
		StoreBackend string        // 存储后端："postgres"、"redis" 或 "memory"（本地开发）
		StoreTimeout time.Duration // 单次存储调用超时，默认 5s
		FriendsFile  string        // StoreBackend=memory 时的好友关系文件（YAML）

		// Redis 键配置（StoreBackend=redis 时使用）
		Cache struct {
			KeyPrefix         string // 键前缀，如 "presence:"
			SecurityLogStream string // 安全日志流，如 "presence:security:logs"
			StreamMaxLen      int64  // 安全日志流最大长度（近似裁剪）
		}

		// 升级调度
		SchedulerInterval time.Duration // 轮询间隔，默认 5 分钟

		// 阈值来源
		Thresholds struct {
			Source          string        // "database"、"file" 或 "default"
			File            string        // Source=file 时的 YAML 文件路径
			RefreshInterval time.Duration // 刷新间隔，默认 5 分钟
		}

		// MQTT 主题
		MQTTEnabled             bool   // 是否连接 MQTT（心跳订阅与应用内通知）
		HeartbeatTopic          string // 心跳订阅主题，如 "lonelycare/+/heartbeat"
		NotificationTopicPrefix string // 应用内通知主题前缀，如 "lonelycare/"
	}

	Notifier struct {
		Backends       []string      // "push"、"mqtt"
		Timeout        time.Duration // 单次通知调用超时，默认 10s
		ReportCooldown time.Duration // 同一人紧急服务上报间隔，默认 24h
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
		File   string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "lonelycare")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "lonelycare-presence")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Push.BaseURL = getEnv("PUSH_BASE_URL", "")
	cfg.Push.Timeout = 10 * time.Second
	cfg.Push.Retries = 2
	cfg.Push.LoadFromEnv("PUSH")

	cfg.Emergency.Timeout = 15 * time.Second
	cfg.Emergency.Retries = 2
	cfg.Emergency.LoadFromEnv("EMERGENCY")

	var err error
	cfg.Presence.StoreBackend = getEnv("STORE_BACKEND", "postgres")
	switch cfg.Presence.StoreBackend {
	case "postgres", "redis", "memory":
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %s", cfg.Presence.StoreBackend)
	}
	if cfg.Presence.StoreTimeout, err = getDuration("STORE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	cfg.Presence.FriendsFile = getEnv("FRIENDS_FILE", "")

	cfg.Presence.Cache.KeyPrefix = getEnv("CACHE_PRESENCE_PREFIX", "presence:")
	cfg.Presence.Cache.SecurityLogStream = getEnv("CACHE_SECURITY_STREAM", "presence:security:logs")
	cfg.Presence.Cache.StreamMaxLen = 100000

	if cfg.Presence.SchedulerInterval, err = getDuration("SCHEDULER_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.Presence.Thresholds.Source = getEnv("THRESHOLD_SOURCE", "database")
	cfg.Presence.Thresholds.File = getEnv("THRESHOLD_FILE", "thresholds.yaml")
	if cfg.Presence.Thresholds.RefreshInterval, err = getDuration("THRESHOLD_REFRESH", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.Presence.MQTTEnabled = getEnv("MQTT_ENABLED", "true") != "false"
	cfg.Presence.HeartbeatTopic = getEnv("MQTT_HEARTBEAT_TOPIC", "lonelycare/+/heartbeat")
	cfg.Presence.NotificationTopicPrefix = getEnv("MQTT_NOTIFICATION_PREFIX", "lonelycare/")

	cfg.Notifier.Backends = splitList(getEnv("NOTIFIER_BACKENDS", "push,mqtt"))
	if cfg.Notifier.Timeout, err = getDuration("NOTIFIER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Notifier.ReportCooldown, err = getDuration("EMERGENCY_REPORT_COOLDOWN", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.File = getEnv("LOG_FILE", "")

	return cfg, nil
}

// HasNotifier 判断是否启用了指定通知后端
func (c *Config) HasNotifier(name string) bool {
	for _, b := range c.Notifier.Backends {
		if b == name {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, value)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
