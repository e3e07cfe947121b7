package dispatcher

import (
	"sync"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cooldownKey struct {
	personID string
	level    models.AlertLevel
}

// CooldownTable 通知冷却表（进程内，重启丢失）
// 有界 LRU 按真实时间淘汰过期记录；是否仍在冷却期以注入时钟下的 SentAt 为准
type CooldownTable struct {
	mu      sync.Mutex
	entries *expirable.LRU[cooldownKey, models.CooldownEntry]
	window  time.Duration
	clock   clock.Clock
}

// NewCooldownTable 创建冷却表；size 为最多保存的 (人, 级别) 数量
func NewCooldownTable(window time.Duration, size int, clk clock.Clock) *CooldownTable {
	return &CooldownTable{
		entries: expirable.NewLRU[cooldownKey, models.CooldownEntry](size, nil, window),
		window:  window,
		clock:   clk,
	}
}

// Remaining 返回剩余冷却时间，0 表示可以发送
func (t *CooldownTable) Remaining(personID string, level models.AlertLevel) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked(cooldownKey{personID, level}, t.clock.Now())
}

// TryAcquire 检查并写入冷却记录（同一临界区内完成）
// 返回 false 时附带剩余冷却时间
func (t *CooldownTable) TryAcquire(personID string, level models.AlertLevel) (bool, time.Duration) {
	now := t.clock.Now()
	key := cooldownKey{personID, level}

	t.mu.Lock()
	defer t.mu.Unlock()

	if remaining := t.remainingLocked(key, now); remaining > 0 {
		return false, remaining
	}

	t.entries.Add(key, models.CooldownEntry{
		ObservedPersonID: personID,
		AlertLevel:       level,
		SentAt:           now,
	})
	return true, 0
}

// Release 删除冷却记录（发送失败后允许立即重试）
func (t *CooldownTable) Release(personID string, level models.AlertLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(cooldownKey{personID, level})
}

// Len 当前冷却记录数
func (t *CooldownTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

func (t *CooldownTable) remainingLocked(key cooldownKey, now time.Time) time.Duration {
	entry, ok := t.entries.Get(key)
	if !ok {
		return 0
	}

	elapsed := now.Sub(entry.SentAt)
	if elapsed >= t.window {
		t.entries.Remove(key)
		return 0
	}
	return t.window - elapsed
}

type deliveryKey struct {
	personID   string
	level      models.AlertLevel
	observerID string
}

// DeliveryLog 冷却窗口内已送达的观察者；部分失败后重试时跳过已送达者
type DeliveryLog struct {
	mu      sync.Mutex
	entries *expirable.LRU[deliveryKey, time.Time]
	window  time.Duration
	clock   clock.Clock
}

// NewDeliveryLog 创建送达记录
func NewDeliveryLog(window time.Duration, size int, clk clock.Clock) *DeliveryLog {
	return &DeliveryLog{
		entries: expirable.NewLRU[deliveryKey, time.Time](size, nil, window),
		window:  window,
		clock:   clk,
	}
}

// Mark 记录观察者已送达
func (l *DeliveryLog) Mark(personID string, level models.AlertLevel, observerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Add(deliveryKey{personID, level, observerID}, l.clock.Now())
}

// Delivered 观察者是否在窗口内已送达
func (l *DeliveryLog) Delivered(personID string, level models.AlertLevel, observerID string) bool {
	key := deliveryKey{personID, level, observerID}

	l.mu.Lock()
	defer l.mu.Unlock()

	sentAt, ok := l.entries.Get(key)
	if !ok {
		return false
	}
	if l.clock.Now().Sub(sentAt) >= l.window {
		l.entries.Remove(key)
		return false
	}
	return true
}
