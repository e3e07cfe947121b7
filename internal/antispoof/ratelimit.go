package antispoof

import (
	"sync"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"

	gocache "github.com/patrickmn/go-cache"
)

// RateLimiter 按用户的滑动窗口限流
// 每个用户保存窗口内已接受请求的时间戳；空闲超过一个窗口的用户由缓存自动淘汰
type RateLimiter struct {
	mu      sync.Mutex
	windows *gocache.Cache
	limit   int
	window  time.Duration
	clock   clock.Clock
}

// NewRateLimiter 创建限流器：每个 window 内最多 limit 次
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		windows: gocache.New(window, 2*window),
		limit:   limit,
		window:  window,
		clock:   clk,
	}
}

// Allow 检查并记录一次请求；返回是否允许，以及检查时窗口内已有的请求数
func (l *RateLimiter) Allow(userID string) (bool, int) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var recent []time.Time
	if v, ok := l.windows.Get(userID); ok {
		for _, ts := range v.([]time.Time) {
			if now.Sub(ts) < l.window {
				recent = append(recent, ts)
			}
		}
	}

	if len(recent) >= l.limit {
		l.windows.Set(userID, recent, gocache.DefaultExpiration)
		return false, len(recent)
	}

	l.windows.Set(userID, append(recent, now), gocache.DefaultExpiration)
	return true, len(recent)
}

// ActiveWindows 当前持有窗口的用户数
func (l *RateLimiter) ActiveWindows() int {
	return l.windows.ItemCount()
}
