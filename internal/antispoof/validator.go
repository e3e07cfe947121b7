package antispoof

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/metrics"
	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrValidation 心跳数据不完整或数值异常
	ErrValidation = errors.New("invalid heartbeat")
	// ErrRateLimitExceeded 超过每分钟请求上限
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrTimestampDrift 客户端时间与服务端时间差超过上限
	ErrTimestampDrift = errors.New("timestamp drift")
)

// SecurityLogWriter 安全日志写入
type SecurityLogWriter interface {
	AppendSecurityLog(ctx context.Context, entry models.SuspiciousActivityEntry) error
}

// Options 校验参数
type Options struct {
	MaxRequests           int           // 每个窗口最多请求数，默认 10
	Window                time.Duration // 限流窗口，默认 60s
	MaxDrift              time.Duration // 允许的时间差，默认 30s
	MaxMotionCount        int           // 每日动作数上限，默认 10000
	MinTransitionInterval time.Duration // 短于该间隔的状态变化视为可疑，默认 60s
	DangerRecoveryWindow  time.Duration // danger→normal 短于该间隔视为可疑，默认 1h
	AuditTimeout          time.Duration // 安全日志写入超时，默认 5s
}

// DefaultOptions 默认校验参数
func DefaultOptions() Options {
	return Options{
		MaxRequests:           10,
		Window:                60 * time.Second,
		MaxDrift:              30 * time.Second,
		MaxMotionCount:        10000,
		MinTransitionInterval: 60 * time.Second,
		DangerRecoveryWindow:  time.Hour,
		AuditTimeout:          5 * time.Second,
	}
}

// Status 校验器运行状态
type Status struct {
	SuspiciousTotal        int64  `json:"suspicious_total"`
	ActiveRateLimitWindows int    `json:"active_rate_limit_windows"`
	MaxRequestsPerWindow   int    `json:"max_requests_per_window"`
	Window                 string `json:"window"`
	MaxDrift               string `json:"max_drift"`
}

// Validator 防伪校验器
// 完整性检查（时间差、限流、数据）失败即拒绝；状态变化模式检查只记录不拦截
type Validator struct {
	opts       Options
	clock      clock.Clock
	limiter    *RateLimiter
	audit      SecurityLogWriter
	metrics    *metrics.Metrics
	logger     *zap.Logger
	suspicious atomic.Int64
}

// NewValidator 创建防伪校验器；audit 与 m 可为 nil
func NewValidator(opts Options, clk clock.Clock, audit SecurityLogWriter, m *metrics.Metrics, logger *zap.Logger) *Validator {
	return &Validator{
		opts:    opts,
		clock:   clk,
		limiter: NewRateLimiter(opts.MaxRequests, opts.Window, clk),
		audit:   audit,
		metrics: m,
		logger:  logger,
	}
}

// ValidateHeartbeat 依次执行：用户ID → 限流 → 时间差 → 数据完整性
func (v *Validator) ValidateHeartbeat(ctx context.Context, hb models.HeartbeatRecord) error {
	if hb.OwnerID == "" {
		v.record(ctx, models.LogInvalidHeartbeatData, "", heartbeatDetails(hb, "missing owner_id"))
		return fmt.Errorf("%w: missing owner_id", ErrValidation)
	}

	if err := v.CheckRateLimit(ctx, hb.OwnerID); err != nil {
		return err
	}

	// 缺失时间戳交给数据完整性检查
	if !hb.Timestamp.IsZero() {
		if err := v.ValidateTimestamp(ctx, hb.OwnerID, hb.Timestamp); err != nil {
			return err
		}
	}

	return v.ValidatePayload(ctx, hb)
}

// ValidateTimestamp 校验客户端时间与服务端时间差
func (v *Validator) ValidateTimestamp(ctx context.Context, userID string, claimed time.Time) error {
	serverTime := v.clock.Now()
	drift := serverTime.Sub(claimed)
	if drift < 0 {
		drift = -drift
	}

	if drift > v.opts.MaxDrift {
		v.logger.Warn("Suspicious timestamp detected",
			zap.String("user_id", userID),
			zap.Time("client_time", claimed),
			zap.Time("server_time", serverTime),
			zap.Duration("drift", drift),
		)
		v.record(ctx, models.LogTimestampDrift, userID, map[string]interface{}{
			"client_timestamp": claimed.UnixMilli(),
			"server_timestamp": serverTime.UnixMilli(),
			"drift_ms":         drift.Milliseconds(),
		})
		return fmt.Errorf("%w: %s exceeds %s", ErrTimestampDrift, drift, v.opts.MaxDrift)
	}

	return nil
}

// CheckRateLimit 滑动窗口限流
func (v *Validator) CheckRateLimit(ctx context.Context, userID string) error {
	allowed, count := v.limiter.Allow(userID)
	if allowed {
		return nil
	}

	v.logger.Warn("Rate limit exceeded",
		zap.String("user_id", userID),
		zap.Int("request_count", count),
	)
	v.record(ctx, models.LogRateLimitExceeded, userID, map[string]interface{}{
		"request_count": count,
		"window":        v.opts.Window.String(),
	})
	return fmt.Errorf("%w: %d requests in %s", ErrRateLimitExceeded, count, v.opts.Window)
}

// ValidatePayload 校验必填字段与动作数范围
func (v *Validator) ValidatePayload(ctx context.Context, hb models.HeartbeatRecord) error {
	var missing string
	switch {
	case hb.OwnerID == "":
		missing = "owner_id"
	case hb.Timestamp.IsZero():
		missing = "timestamp"
	case !hb.SourceSensor.Valid():
		missing = "source_sensor"
	case hb.MotionCountMissing():
		missing = "motion_count"
	}
	if missing != "" {
		v.record(ctx, models.LogInvalidHeartbeatData, hb.OwnerID, heartbeatDetails(hb, "missing or invalid "+missing))
		return fmt.Errorf("%w: missing or invalid %s", ErrValidation, missing)
	}

	if hb.MotionCount < 0 || hb.MotionCount > v.opts.MaxMotionCount {
		v.record(ctx, models.LogAbnormalMotionCount, hb.OwnerID, heartbeatDetails(hb, "motion_count out of range"))
		return fmt.Errorf("%w: motion_count %d out of range [0, %d]", ErrValidation, hb.MotionCount, v.opts.MaxMotionCount)
	}

	return nil
}

// ValidateStatusTransition 检查状态变化模式；返回 false 表示可疑（已记录），调用方仍应用新状态
func (v *Validator) ValidateStatusTransition(ctx context.Context, userID string, oldLevel, newLevel models.AlertLevel, elapsed time.Duration) bool {
	tooFast := elapsed < v.opts.MinTransitionInterval
	quickRecovery := oldLevel == models.AlertLevelDanger &&
		newLevel == models.AlertLevelNormal &&
		elapsed < v.opts.DangerRecoveryWindow

	if !tooFast && !quickRecovery {
		return true
	}

	v.logger.Warn("Suspicious status change pattern detected",
		zap.String("user_id", userID),
		zap.String("old_level", string(oldLevel)),
		zap.String("new_level", string(newLevel)),
		zap.Duration("elapsed", elapsed),
	)
	v.record(ctx, models.LogSuspiciousStatusPattern, userID, map[string]interface{}{
		"old_status":             string(oldLevel),
		"new_status":             string(newLevel),
		"time_since_last_update": elapsed.Milliseconds(),
	})
	return false
}

// RecordSuspicious 记录其他组件发现的可疑活动（如 MQTT 主题与数据中的用户不一致）
func (v *Validator) RecordSuspicious(ctx context.Context, logType models.SecurityLogType, userID string, details map[string]interface{}) {
	v.record(ctx, logType, userID, details)
}

// Status 返回校验器运行状态
func (v *Validator) Status() Status {
	return Status{
		SuspiciousTotal:        v.suspicious.Load(),
		ActiveRateLimitWindows: v.limiter.ActiveWindows(),
		MaxRequestsPerWindow:   v.opts.MaxRequests,
		Window:                 v.opts.Window.String(),
		MaxDrift:               v.opts.MaxDrift.String(),
	}
}

// record 写入安全日志；写入失败只记日志，不影响校验结果
func (v *Validator) record(ctx context.Context, logType models.SecurityLogType, userID string, details map[string]interface{}) {
	v.suspicious.Add(1)
	v.metrics.SuspiciousActivity(logType)

	if v.audit == nil {
		return
	}

	entry := models.NewSuspiciousActivityEntry(logType, userID, details, v.clock.Now())

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.opts.AuditTimeout)
	defer cancel()

	if err := v.audit.AppendSecurityLog(auditCtx, entry); err != nil {
		v.logger.Error("Failed to save security log",
			zap.String("type", string(logType)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func heartbeatDetails(hb models.HeartbeatRecord, reason string) map[string]interface{} {
	details := map[string]interface{}{
		"reason":        reason,
		"heartbeat_id":  hb.ID,
		"motion_count":  hb.MotionCount,
		"source_sensor": string(hb.SourceSensor),
	}
	if !hb.Timestamp.IsZero() {
		details["timestamp"] = hb.Timestamp.UnixMilli()
	}
	return details
}
