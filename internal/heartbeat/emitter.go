package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// Sink 心跳投递（MQTT 发布、直接写入服务等）
type Sink interface {
	Deliver(ctx context.Context, hb models.HeartbeatRecord) error
}

// MotionEvent 传感器事件
// Intensity：加速度为三轴绝对值之和，方向为三个角度变化中的最大值，触摸类事件忽略
type MotionEvent struct {
	Source    models.SourceSensor `json:"source"`
	Intensity float64             `json:"intensity"`
	At        time.Time           `json:"at"`
}

// Reject reasons
const (
	RejectBelowThreshold = "below_threshold"
	RejectVibration      = "phone_vibration"
	RejectPaused         = "paused"
	RejectCooldown       = "cooldown"
	RejectHourlyCap      = "hourly_cap"
	RejectUnknownSource  = "unknown_source"
)

// Options 发射器参数
type Options struct {
	OwnerID              string
	DeviceDescriptor     string
	Cooldown             time.Duration // 两次有效动作的最小间隔，默认 5s
	MaxPerHour           int           // 每小时有效动作上限，默认 10
	PeriodicInterval     time.Duration // 周期性心跳间隔，默认 1h
	AccelThreshold       float64       // 加速度阈值，默认 2.5
	OrientationThreshold float64       // 角度变化阈值（度），默认 10
	DeliveryTimeout      time.Duration // 投递超时，默认 10s
}

// DefaultOptions 默认发射器参数
func DefaultOptions(ownerID, device string) Options {
	return Options{
		OwnerID:              ownerID,
		DeviceDescriptor:     device,
		Cooldown:             5 * time.Second,
		MaxPerHour:           10,
		PeriodicInterval:     time.Hour,
		AccelThreshold:       2.5,
		OrientationThreshold: 10,
		DeliveryTimeout:      10 * time.Second,
	}
}

// Status 发射器状态快照
type Status struct {
	OwnerID      string     `json:"owner_id"`
	MotionCount  int        `json:"motion_count"`
	HourCount    int        `json:"hour_count"`
	HourBucket   time.Time  `json:"hour_bucket"`
	LastMotionAt *time.Time `json:"last_motion_at,omitempty"`
	Paused       bool       `json:"paused"`
}

// Emitter 心跳发射器：把传感器事件转换为限频的心跳
type Emitter struct {
	opts      Options
	clock     clock.Clock
	sink      Sink
	vibration *VibrationFilter
	logger    *zap.Logger

	mu           sync.Mutex
	motionCount  int // 当天有效动作数
	dayBucket    time.Time
	hourCount    int
	hourBucket   time.Time
	lastMotionAt time.Time
	paused       bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEmitter 创建心跳发射器
func NewEmitter(opts Options, clk clock.Clock, sink Sink, logger *zap.Logger) *Emitter {
	return &Emitter{
		opts:      opts,
		clock:     clk,
		sink:      sink,
		vibration: NewVibrationFilter(),
		logger:    logger,
	}
}

// Observe 处理一个传感器事件；接受时立即投递心跳
// 返回是否接受、拒绝原因；投递失败时心跳被丢弃并返回错误
func (e *Emitter) Observe(ctx context.Context, ev MotionEvent) (bool, string, error) {
	now := e.clock.Now()
	if ev.At.IsZero() {
		ev.At = now
	}

	e.mu.Lock()
	if reason := e.checkIntensityLocked(ev); reason != "" {
		e.mu.Unlock()
		return false, reason, nil
	}

	e.rollBucketsLocked(now)

	switch {
	case e.paused:
		e.mu.Unlock()
		return false, RejectPaused, nil
	case !e.lastMotionAt.IsZero() && now.Sub(e.lastMotionAt) < e.opts.Cooldown:
		e.mu.Unlock()
		return false, RejectCooldown, nil
	case e.hourCount >= e.opts.MaxPerHour:
		e.mu.Unlock()
		return false, RejectHourlyCap, nil
	}

	e.motionCount++
	e.hourCount++
	e.lastMotionAt = now
	hb := models.NewHeartbeatRecord(e.opts.OwnerID, now, e.motionCount, ev.Source, e.opts.DeviceDescriptor)
	hourCount := e.hourCount
	e.mu.Unlock()

	e.logger.Debug("Motion accepted",
		zap.String("source", string(ev.Source)),
		zap.Int("motion_count", hb.MotionCount),
		zap.Int("hour_count", hourCount),
	)

	return true, "", e.deliver(ctx, hb)
}

// EmitPeriodic 发送与动作无关的周期性心跳（不受冷却、上限与暂停影响）
func (e *Emitter) EmitPeriodic(ctx context.Context) error {
	now := e.clock.Now()

	e.mu.Lock()
	e.rollBucketsLocked(now)
	hb := models.NewHeartbeatRecord(e.opts.OwnerID, now, e.motionCount, models.SourceTimer, e.opts.DeviceDescriptor)
	e.mu.Unlock()

	return e.deliver(ctx, hb)
}

// Start 启动周期性心跳
func (e *Emitter) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return errors.New("emitter already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.opts.PeriodicInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				// 投递失败已记录日志，等待下一周期
				_ = e.EmitPeriodic(runCtx)
			}
		}
	}()

	e.logger.Info("Heartbeat emitter started",
		zap.String("owner_id", e.opts.OwnerID),
		zap.Duration("periodic_interval", e.opts.PeriodicInterval),
	)
	return nil
}

// Stop 停止周期性心跳
func (e *Emitter) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

// Pause 暂停动作检测（电池优化），周期性心跳不受影响
func (e *Emitter) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume 恢复动作检测
func (e *Emitter) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

// Status 返回状态快照
func (e *Emitter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollBucketsLocked(e.clock.Now())
	s := Status{
		OwnerID:     e.opts.OwnerID,
		MotionCount: e.motionCount,
		HourCount:   e.hourCount,
		HourBucket:  e.hourBucket,
		Paused:      e.paused,
	}
	if !e.lastMotionAt.IsZero() {
		t := e.lastMotionAt
		s.LastMotionAt = &t
	}
	return s
}

func (e *Emitter) checkIntensityLocked(ev MotionEvent) string {
	switch ev.Source {
	case models.SourceAccelerometer:
		if e.vibration.Add(ev.At, ev.Intensity) {
			return RejectVibration
		}
		if ev.Intensity <= e.opts.AccelThreshold {
			return RejectBelowThreshold
		}
	case models.SourceOrientation:
		if ev.Intensity <= e.opts.OrientationThreshold {
			return RejectBelowThreshold
		}
	case models.SourceTouch, models.SourceScroll, models.SourceKeyboard:
	default:
		return RejectUnknownSource
	}
	return ""
}

// rollBucketsLocked 跨整点清零小时计数，跨天清零当日动作数
func (e *Emitter) rollBucketsLocked(now time.Time) {
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	if !hour.Equal(e.hourBucket) {
		e.hourBucket = hour
		e.hourCount = 0
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !day.Equal(e.dayBucket) {
		e.dayBucket = day
		e.motionCount = 0
	}
}

func (e *Emitter) deliver(ctx context.Context, hb models.HeartbeatRecord) error {
	dctx, cancel := context.WithTimeout(ctx, e.opts.DeliveryTimeout)
	defer cancel()

	if err := e.sink.Deliver(dctx, hb); err != nil {
		// 不排队重试，等待下一次动作或周期心跳
		e.logger.Warn("Heartbeat delivery failed, dropped",
			zap.String("owner_id", hb.OwnerID),
			zap.String("source", string(hb.SourceSensor)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to deliver heartbeat: %w", err)
	}
	return nil
}
