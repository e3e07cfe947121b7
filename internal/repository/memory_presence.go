package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"
)

// MemoryPresenceStore 进程内在线状态存储（本地开发与测试）
type MemoryPresenceStore struct {
	mu         sync.RWMutex
	heartbeats map[string][]models.HeartbeatRecord
	status     map[string]models.PresenceState
	logs       []models.SuspiciousActivityEntry
	notices    []models.NotificationLog
	friends    []models.FriendLink
}

// NewMemoryPresenceStore 创建进程内存储
func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{
		heartbeats: make(map[string][]models.HeartbeatRecord),
		status:     make(map[string]models.PresenceState),
	}
}

// AppendHeartbeat 追加心跳记录
func (m *MemoryPresenceStore) AppendHeartbeat(ctx context.Context, hb models.HeartbeatRecord) error {
	if err := ctx.Err(); err != nil {
		return unavailable("append heartbeat", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.heartbeats[hb.OwnerID], hb)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	m.heartbeats[hb.OwnerID] = list
	return nil
}

// GetLatestHeartbeat 获取用户最近一次心跳
func (m *MemoryPresenceStore) GetLatestHeartbeat(ctx context.Context, userID string) (*models.HeartbeatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read latest heartbeat", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.heartbeats[userID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	hb := list[len(list)-1]
	return &hb, nil
}

// QueryHeartbeats 按时间范围查询心跳（含边界，按时间升序）
func (m *MemoryPresenceStore) QueryHeartbeats(ctx context.Context, userID string, from, to time.Time) ([]models.HeartbeatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("query heartbeats", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.HeartbeatRecord
	for _, hb := range m.heartbeats[userID] {
		if !hb.Timestamp.Before(from) && !hb.Timestamp.After(to) {
			out = append(out, hb)
		}
	}
	return out, nil
}

// GetPresence 获取用户在线状态
func (m *MemoryPresenceStore) GetPresence(ctx context.Context, userID string) (*models.PresenceState, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read user status", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.status[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

// SavePresence 保存用户在线状态
func (m *MemoryPresenceStore) SavePresence(ctx context.Context, state models.PresenceState) error {
	if err := ctx.Err(); err != nil {
		return unavailable("write user status", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status[state.UserID] = state
	return nil
}

// AppendSecurityLog 追加安全日志
func (m *MemoryPresenceStore) AppendSecurityLog(ctx context.Context, entry models.SuspiciousActivityEntry) error {
	if err := ctx.Err(); err != nil {
		return unavailable("append security log", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs = append(m.logs, entry)
	return nil
}

// QuerySecurityLogs 查询安全日志（按 observed_at 降序）
func (m *MemoryPresenceStore) QuerySecurityLogs(ctx context.Context, filter SecurityLogFilter) ([]models.SuspiciousActivityEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("query security logs", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SuspiciousActivityEntry
	for _, e := range m.logs {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AppendNotificationLog 追加通知发送记录
func (m *MemoryPresenceStore) AppendNotificationLog(ctx context.Context, entry models.NotificationLog) error {
	if err := ctx.Err(); err != nil {
		return unavailable("append notification log", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notices = append(m.notices, entry)
	return nil
}

// NotificationLogs 返回通知发送记录副本（按写入顺序）
func (m *MemoryPresenceStore) NotificationLogs() []models.NotificationLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.NotificationLog(nil), m.notices...)
}

// SetFriendLinks 设置好友关系
func (m *MemoryPresenceStore) SetFriendLinks(links []models.FriendLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends = append([]models.FriendLink(nil), links...)
}

// ListActiveFriendLinks 获取所有好友关系
func (m *MemoryPresenceStore) ListActiveFriendLinks(ctx context.Context) ([]models.FriendLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list friend links", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.FriendLink(nil), m.friends...), nil
}
