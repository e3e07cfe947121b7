package clock

import (
	"sync"
	"time"
)

// Clock 时间来源（服务端时间为准）
type Clock interface {
	Now() time.Time
}

// System 系统时钟
type System struct{}

// Now 返回当前时间
func (System) Now() time.Time { return time.Now() }

// Fake 可手动推进的时钟，用于测试
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake 创建固定在 t 的时钟
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now 返回当前假时间
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance 推进时间
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set 设置时间
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
