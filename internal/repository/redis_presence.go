package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	rediscommon "github.com/consil800/lonely-care-sub004/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPresenceStore 基于 Redis 的在线状态存储
// - 心跳：每个用户一个 ZSET，score 为毫秒时间戳
// - 在线状态：每个用户一个 JSON 字符串，不设 TTL
// - 安全日志、通知记录：各一个 Redis Stream
type RedisPresenceStore struct {
	client       *redis.Client
	keyPrefix    string
	logStream    string
	streamMaxLen int64
	logger       *zap.Logger
}

// NewRedisPresenceStore 创建 Redis 在线状态存储
func NewRedisPresenceStore(client *redis.Client, keyPrefix, logStream string, streamMaxLen int64, logger *zap.Logger) *RedisPresenceStore {
	return &RedisPresenceStore{
		client:       client,
		keyPrefix:    keyPrefix,
		logStream:    logStream,
		streamMaxLen: streamMaxLen,
		logger:       logger,
	}
}

func (s *RedisPresenceStore) heartbeatKey(userID string) string {
	return fmt.Sprintf("%sheartbeats:%s", s.keyPrefix, userID)
}

func (s *RedisPresenceStore) notificationStream() string {
	return s.keyPrefix + "notification_logs"
}

func (s *RedisPresenceStore) statusKey(userID string) string {
	return fmt.Sprintf("%sstatus:%s", s.keyPrefix, userID)
}

// AppendHeartbeat 追加心跳记录
func (s *RedisPresenceStore) AppendHeartbeat(ctx context.Context, hb models.HeartbeatRecord) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	err = s.client.ZAdd(ctx, s.heartbeatKey(hb.OwnerID), &redis.Z{
		Score:  float64(hb.Timestamp.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return unavailable("append heartbeat", err)
	}

	return nil
}

// GetLatestHeartbeat 获取用户最近一次心跳
func (s *RedisPresenceStore) GetLatestHeartbeat(ctx context.Context, userID string) (*models.HeartbeatRecord, error) {
	members, err := s.client.ZRevRange(ctx, s.heartbeatKey(userID), 0, 0).Result()
	if err != nil {
		return nil, unavailable("read latest heartbeat", err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}

	var hb models.HeartbeatRecord
	if err := json.Unmarshal([]byte(members[0]), &hb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}
	return &hb, nil
}

// QueryHeartbeats 按时间范围查询心跳（含边界，按时间升序）
func (s *RedisPresenceStore) QueryHeartbeats(ctx context.Context, userID string, from, to time.Time) ([]models.HeartbeatRecord, error) {
	members, err := s.client.ZRangeByScore(ctx, s.heartbeatKey(userID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, unavailable("query heartbeats", err)
	}

	records := make([]models.HeartbeatRecord, 0, len(members))
	for _, m := range members {
		var hb models.HeartbeatRecord
		if err := json.Unmarshal([]byte(m), &hb); err != nil {
			s.logger.Warn("Skipping malformed heartbeat",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		records = append(records, hb)
	}
	return records, nil
}

// GetPresence 获取用户在线状态
func (s *RedisPresenceStore) GetPresence(ctx context.Context, userID string) (*models.PresenceState, error) {
	data, err := s.client.Get(ctx, s.statusKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("read user status", err)
	}

	var state models.PresenceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user status: %w", err)
	}
	return &state, nil
}

// SavePresence 保存用户在线状态
func (s *RedisPresenceStore) SavePresence(ctx context.Context, state models.PresenceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal user status: %w", err)
	}

	if err := s.client.Set(ctx, s.statusKey(state.UserID), data, 0).Err(); err != nil {
		return unavailable("write user status", err)
	}
	return nil
}

// AppendSecurityLog 追加安全日志到 stream
func (s *RedisPresenceStore) AppendSecurityLog(ctx context.Context, entry models.SuspiciousActivityEntry) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.logStream, entry, s.streamMaxLen); err != nil {
		return unavailable("append security log", err)
	}
	return nil
}

// AppendNotificationLog 追加通知发送记录到 stream
func (s *RedisPresenceStore) AppendNotificationLog(ctx context.Context, entry models.NotificationLog) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.notificationStream(), entry, s.streamMaxLen); err != nil {
		return unavailable("append notification log", err)
	}
	return nil
}

// QuerySecurityLogs 查询安全日志（按 observed_at 降序）
// stream ID 为写入时间，先按写入时间取范围，再按 observed_at 过滤
func (s *RedisPresenceStore) QuerySecurityLogs(ctx context.Context, filter SecurityLogFilter) ([]models.SuspiciousActivityEntry, error) {
	from := filter.From
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	to := filter.To
	if to.IsZero() {
		to = time.Now().Add(time.Minute)
	}

	messages, err := rediscommon.ReadStreamRange(ctx, s.client, s.logStream, from, to)
	if err != nil {
		return nil, unavailable("read security logs", err)
	}

	entries := make([]models.SuspiciousActivityEntry, 0, len(messages))
	for _, msg := range messages {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var entry models.SuspiciousActivityEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("Skipping malformed security log",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		if filter.Match(entry) {
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ObservedAt.After(entries[j].ObservedAt)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}
