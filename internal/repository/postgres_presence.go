package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// PostgresPresenceStore 基于 PostgreSQL 的在线状态存储
type PostgresPresenceStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresPresenceStore 创建 PostgreSQL 在线状态存储
func NewPostgresPresenceStore(db *sql.DB, logger *zap.Logger) *PostgresPresenceStore {
	return &PostgresPresenceStore{
		db:     db,
		logger: logger,
	}
}

// ============================================
// heartbeats
// ============================================

// AppendHeartbeat 追加心跳记录
func (r *PostgresPresenceStore) AppendHeartbeat(ctx context.Context, hb models.HeartbeatRecord) error {
	query := `
		INSERT INTO heartbeats (
			id, owner_id, timestamp, motion_count, source_sensor, device_descriptor
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		hb.ID,
		hb.OwnerID,
		hb.Timestamp,
		hb.MotionCount,
		string(hb.SourceSensor),
		nullString(hb.DeviceDescriptor),
	)
	if err != nil {
		return unavailable("insert heartbeat", err)
	}

	return nil
}

// GetLatestHeartbeat 获取用户最近一次心跳
func (r *PostgresPresenceStore) GetLatestHeartbeat(ctx context.Context, userID string) (*models.HeartbeatRecord, error) {
	query := `
		SELECT id, owner_id, timestamp, motion_count, source_sensor, device_descriptor
		FROM heartbeats
		WHERE owner_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	hb, err := scanHeartbeat(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("query latest heartbeat", err)
	}

	return hb, nil
}

// QueryHeartbeats 按时间范围查询心跳（含边界，按时间升序）
func (r *PostgresPresenceStore) QueryHeartbeats(ctx context.Context, userID string, from, to time.Time) ([]models.HeartbeatRecord, error) {
	query := `
		SELECT id, owner_id, timestamp, motion_count, source_sensor, device_descriptor
		FROM heartbeats
		WHERE owner_id = $1
		  AND timestamp >= $2
		  AND timestamp <= $3
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, from, to)
	if err != nil {
		return nil, unavailable("query heartbeats", err)
	}
	defer rows.Close()

	var records []models.HeartbeatRecord
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, unavailable("scan heartbeat", err)
		}
		records = append(records, *hb)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate heartbeats", err)
	}

	return records, nil
}

// ============================================
// user_status
// ============================================

// GetPresence 获取用户在线状态
func (r *PostgresPresenceStore) GetPresence(ctx context.Context, userID string) (*models.PresenceState, error) {
	query := `
		SELECT user_id, last_heartbeat_at, last_computed_level, updated_at
		FROM user_status
		WHERE user_id = $1
	`

	var state models.PresenceState
	var lastHeartbeat sql.NullTime
	var level sql.NullString

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&state.UserID,
		&lastHeartbeat,
		&level,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("query user status", err)
	}

	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		state.LastHeartbeatAt = &t
	}
	state.LastComputedLevel, err = models.ParseAlertLevel(level.String)
	if err != nil {
		// 未知级别按 unknown 处理，不阻塞评估
		r.logger.Warn("Invalid alert level in user_status",
			zap.String("user_id", userID),
			zap.String("level", level.String),
		)
		state.LastComputedLevel = models.AlertLevelUnknown
	}

	return &state, nil
}

// SavePresence 保存用户在线状态（不存在则创建）
func (r *PostgresPresenceStore) SavePresence(ctx context.Context, state models.PresenceState) error {
	query := `
		INSERT INTO user_status (user_id, last_heartbeat_at, last_computed_level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			last_computed_level = EXCLUDED.last_computed_level,
			updated_at = EXCLUDED.updated_at
	`

	var lastHeartbeat sql.NullTime
	if state.LastHeartbeatAt != nil {
		lastHeartbeat = sql.NullTime{Time: *state.LastHeartbeatAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		state.UserID,
		lastHeartbeat,
		string(state.LastComputedLevel),
		state.UpdatedAt,
	)
	if err != nil {
		return unavailable("upsert user status", err)
	}

	return nil
}

// ============================================
// security_logs
// ============================================

// AppendSecurityLog 追加安全日志
func (r *PostgresPresenceStore) AppendSecurityLog(ctx context.Context, entry models.SuspiciousActivityEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal security log details: %w", err)
	}

	query := `
		INSERT INTO security_logs (id, type, user_id, details, observed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		string(entry.Type),
		entry.UserID,
		details,
		entry.ObservedAt,
	)
	if err != nil {
		return unavailable("insert security log", err)
	}

	return nil
}

// ============================================
// notification_logs
// ============================================

// AppendNotificationLog 追加通知发送记录
func (r *PostgresPresenceStore) AppendNotificationLog(ctx context.Context, entry models.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (
			id, recipient_id, title, message, type, priority,
			friend_id, friend_name, hours_since_heartbeat, alert_level, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.RecipientID,
		entry.Title,
		entry.Message,
		entry.Type,
		string(entry.Priority),
		entry.FriendID,
		entry.FriendName,
		entry.HoursSinceHeartbeat,
		string(entry.AlertLevel),
		entry.SentAt,
	)
	if err != nil {
		return unavailable("insert notification log", err)
	}

	return nil
}

// QuerySecurityLogs 查询安全日志（按 observed_at 降序）
func (r *PostgresPresenceStore) QuerySecurityLogs(ctx context.Context, filter SecurityLogFilter) ([]models.SuspiciousActivityEntry, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, string(filter.Type))
		argIndex++
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("observed_at >= $%d", argIndex))
		args = append(args, filter.From)
		argIndex++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("observed_at <= $%d", argIndex))
		args = append(args, filter.To)
		argIndex++
	}

	query := `SELECT id, type, user_id, details, observed_at FROM security_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY observed_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query security logs", err)
	}
	defer rows.Close()

	var entries []models.SuspiciousActivityEntry
	for rows.Next() {
		var entry models.SuspiciousActivityEntry
		var logType string
		var details []byte
		if err := rows.Scan(&entry.ID, &logType, &entry.UserID, &details, &entry.ObservedAt); err != nil {
			return nil, unavailable("scan security log", err)
		}
		entry.Type = models.SecurityLogType(logType)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				r.logger.Warn("Failed to unmarshal security log details",
					zap.String("id", entry.ID),
					zap.Error(err),
				)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate security logs", err)
	}

	return entries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHeartbeat(row rowScanner) (*models.HeartbeatRecord, error) {
	var hb models.HeartbeatRecord
	var source string
	var device sql.NullString

	if err := row.Scan(&hb.ID, &hb.OwnerID, &hb.Timestamp, &hb.MotionCount, &source, &device); err != nil {
		return nil, err
	}
	hb.SourceSensor = models.SourceSensor(source)
	hb.DeviceDescriptor = device.String

	return &hb, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
