package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityLogType 可疑活动类型
type SecurityLogType string

const (
	LogTimestampDrift          SecurityLogType = "TIMESTAMP_DRIFT"
	LogRateLimitExceeded       SecurityLogType = "RATE_LIMIT_EXCEEDED"
	LogInvalidHeartbeatData    SecurityLogType = "INVALID_HEARTBEAT_DATA"
	LogAbnormalMotionCount     SecurityLogType = "ABNORMAL_MOTION_COUNT"
	LogSuspiciousStatusPattern SecurityLogType = "SUSPICIOUS_STATUS_PATTERN"
	LogOwnerMismatch           SecurityLogType = "OWNER_MISMATCH"
)

// Valid 是否为已定义的类型
func (t SecurityLogType) Valid() bool {
	switch t {
	case LogTimestampDrift, LogRateLimitExceeded, LogInvalidHeartbeatData,
		LogAbnormalMotionCount, LogSuspiciousStatusPattern, LogOwnerMismatch:
		return true
	}
	return false
}

// SuspiciousActivityEntry 可疑活动记录（对应 security_logs 表，只追加）
type SuspiciousActivityEntry struct {
	ID         string                 `json:"id" db:"id"`
	Type       SecurityLogType        `json:"type" db:"type"`
	UserID     string                 `json:"user_id" db:"user_id"`
	Details    map[string]interface{} `json:"details" db:"details"` // JSONB
	ObservedAt time.Time              `json:"observed_at" db:"observed_at"`
}

// NewSuspiciousActivityEntry 创建可疑活动记录并分配 ID
func NewSuspiciousActivityEntry(logType SecurityLogType, userID string, details map[string]interface{}, at time.Time) SuspiciousActivityEntry {
	return SuspiciousActivityEntry{
		ID:         uuid.New().String(),
		Type:       logType,
		UserID:     userID,
		Details:    details,
		ObservedAt: at,
	}
}
