package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"
)

var (
	// ErrStoreUnavailable 存储不可用或超时
	ErrStoreUnavailable = errors.New("presence store unavailable")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery 查询参数不合法
	ErrInvalidQuery = errors.New("invalid query")
)

// PresenceStore 在线状态存储（heartbeats / user_status / security_logs / notification_logs）
type PresenceStore interface {
	AppendHeartbeat(ctx context.Context, hb models.HeartbeatRecord) error
	GetLatestHeartbeat(ctx context.Context, userID string) (*models.HeartbeatRecord, error)
	QueryHeartbeats(ctx context.Context, userID string, from, to time.Time) ([]models.HeartbeatRecord, error)

	GetPresence(ctx context.Context, userID string) (*models.PresenceState, error)
	SavePresence(ctx context.Context, state models.PresenceState) error

	AppendSecurityLog(ctx context.Context, entry models.SuspiciousActivityEntry) error
	QuerySecurityLogs(ctx context.Context, filter SecurityLogFilter) ([]models.SuspiciousActivityEntry, error)

	AppendNotificationLog(ctx context.Context, entry models.NotificationLog) error
}

// FriendDirectory 好友关系目录
type FriendDirectory interface {
	ListActiveFriendLinks(ctx context.Context) ([]models.FriendLink, error)
}

// SecurityLogFilter 安全日志过滤条件
type SecurityLogFilter struct {
	UserID string                 // 为空表示全部用户
	Type   models.SecurityLogType // 为空表示全部类型
	From   time.Time              // observed_at >= From（零值不限制）
	To     time.Time              // observed_at <= To（零值不限制）
	Limit  int                    // <= 0 表示不限制
}

// Match 判断记录是否满足过滤条件
func (f SecurityLogFilter) Match(e models.SuspiciousActivityEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && e.ObservedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.ObservedAt.After(f.To) {
		return false
	}
	return true
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrStoreUnavailable, err)
}
