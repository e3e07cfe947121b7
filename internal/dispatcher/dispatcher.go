package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/metrics"
	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrNotificationDelivery 平台通知发送失败（冷却已回滚）
	ErrNotificationDelivery = errors.New("notification delivery failed")
	// ErrCooldownActive 同一 (人, 级别) 仍在冷却期
	ErrCooldownActive = errors.New("notification cooldown active")
)

// Notifier 平台通知
type Notifier interface {
	Send(ctx context.Context, n models.Notification) error
}

// NotificationLogWriter 通知发送记录
type NotificationLogWriter interface {
	AppendNotificationLog(ctx context.Context, entry models.NotificationLog) error
}

// EmergencyReporter 紧急服务上报
type EmergencyReporter interface {
	ReportEmergency(ctx context.Context, report models.EmergencyReport) error
}

// Request 派发请求
type Request struct {
	PersonID        string
	PersonName      string
	PersonPhone     string
	PersonAddress   string
	Level           models.AlertLevel
	Elapsed         time.Duration
	LastHeartbeatAt *time.Time
	Observers       []string
}

// Result 派发结果
type Result struct {
	Sent      bool          // 是否完成发送
	Delivered int           // 成功送达的观察者数
	Skipped   int           // 窗口内已送达而跳过的观察者数
	Reported  bool          // 是否已上报紧急服务
	Remaining time.Duration // 冷却剩余时间（被抑制时）
}

// Options 派发参数
type Options struct {
	Cooldown        time.Duration // 冷却时间，默认 5 分钟
	MaxEntries      int           // 冷却表容量，默认 10000
	NotifierTimeout time.Duration // 单次通知超时，默认 10s
	ReportCooldown  time.Duration // 同一人紧急服务上报间隔，默认 24 小时
	LogTimeout      time.Duration // 写通知记录超时，默认 5s
}

// DefaultOptions 默认派发参数
func DefaultOptions() Options {
	return Options{
		Cooldown:        5 * time.Minute,
		MaxEntries:      10000,
		NotifierTimeout: 10 * time.Second,
		ReportCooldown:  24 * time.Hour,
		LogTimeout:      5 * time.Second,
	}
}

// Dispatcher 通知派发器：每个 (人, 级别) 在冷却窗口内最多发送一次
// emergency 级别额外上报紧急服务，使用独立的 (人, emergency) 冷却，失败不影响好友通知
type Dispatcher struct {
	opts      Options
	cooldowns *CooldownTable
	delivered *DeliveryLog
	reports   *CooldownTable
	notifier  Notifier
	logs      NotificationLogWriter
	reporter  EmergencyReporter
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDispatcher 创建通知派发器；logs 与 reporter 可为 nil
func NewDispatcher(
	opts Options,
	notifier Notifier,
	logs NotificationLogWriter,
	reporter EmergencyReporter,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		opts:      opts,
		cooldowns: NewCooldownTable(opts.Cooldown, opts.MaxEntries, clk),
		delivered: NewDeliveryLog(opts.Cooldown, opts.MaxEntries, clk),
		reports:   NewCooldownTable(opts.ReportCooldown, opts.MaxEntries, clk),
		notifier:  notifier,
		logs:      logs,
		reporter:  reporter,
		clock:     clk,
		metrics:   m,
		logger:    logger,
	}
}

// CanSend 返回是否可以发送；不可发送时附带剩余冷却时间
func (d *Dispatcher) CanSend(personID string, level models.AlertLevel) (bool, time.Duration) {
	remaining := d.cooldowns.Remaining(personID, level)
	return remaining == 0, remaining
}

// Dispatch 先写冷却记录再发送；任一观察者发送失败则删除冷却记录
// 冷却窗口内已送达的观察者在重试时跳过
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if !req.Level.Actionable() {
		return Result{}, fmt.Errorf("alert level %s is not actionable", req.Level)
	}

	reported := false
	if req.Level == models.AlertLevelEmergency {
		reported = d.reportEmergency(ctx, req)
	}

	acquired, remaining := d.cooldowns.TryAcquire(req.PersonID, req.Level)
	if !acquired {
		d.metrics.NotificationSuppressed(req.Level)
		d.logger.Debug("Notification suppressed by cooldown",
			zap.String("person_id", req.PersonID),
			zap.String("level", string(req.Level)),
			zap.Duration("remaining", remaining),
		)
		return Result{Reported: reported, Remaining: remaining}, fmt.Errorf("%w: %s remaining", ErrCooldownActive, remaining)
	}

	now := d.clock.Now()
	var errs []error
	delivered, skipped := 0, 0
	for _, observer := range req.Observers {
		if d.delivered.Delivered(req.PersonID, req.Level, observer) {
			skipped++
			continue
		}

		n := BuildNotification(observer, req, now)

		sendCtx, cancel := context.WithTimeout(ctx, d.opts.NotifierTimeout)
		err := d.notifier.Send(sendCtx, n)
		cancel()

		if err != nil {
			errs = append(errs, fmt.Errorf("observer %s: %w", observer, err))
			continue
		}
		delivered++
		d.delivered.Mark(req.PersonID, req.Level, observer)
		d.writeLog(ctx, n, req)
	}

	if len(errs) > 0 {
		d.cooldowns.Release(req.PersonID, req.Level)
		d.metrics.NotificationFailed(req.Level)
		d.logger.Warn("Notification delivery failed, cooldown released",
			zap.String("person_id", req.PersonID),
			zap.String("level", string(req.Level)),
			zap.Int("delivered", delivered),
			zap.Int("skipped", skipped),
			zap.Int("failed", len(errs)),
			zap.Error(errors.Join(errs...)),
		)
		return Result{Delivered: delivered, Skipped: skipped, Reported: reported},
			fmt.Errorf("%w: %w", ErrNotificationDelivery, errors.Join(errs...))
	}

	d.metrics.NotificationSent(req.Level)
	d.logger.Info("Notification dispatched",
		zap.String("person_id", req.PersonID),
		zap.String("level", string(req.Level)),
		zap.Int("observers", delivered),
		zap.Int("skipped", skipped),
	)
	return Result{Sent: true, Delivered: delivered, Skipped: skipped, Reported: reported}, nil
}

// writeLog 写通知发送记录；失败只记日志
func (d *Dispatcher) writeLog(ctx context.Context, n models.Notification, req Request) {
	if d.logs == nil {
		return
	}

	logCtx, cancel := context.WithTimeout(ctx, d.opts.LogTimeout)
	defer cancel()

	entry := models.NewNotificationLog(n, req.PersonName, int(req.Elapsed.Hours()))
	if err := d.logs.AppendNotificationLog(logCtx, entry); err != nil {
		d.logger.Warn("Failed to write notification log",
			zap.String("recipient_id", n.RecipientID),
			zap.String("person_id", req.PersonID),
			zap.Error(err),
		)
	}
}

// reportEmergency 上报紧急服务；失败时释放上报冷却，下一轮重试
func (d *Dispatcher) reportEmergency(ctx context.Context, req Request) bool {
	if d.reporter == nil {
		return false
	}

	acquired, _ := d.reports.TryAcquire(req.PersonID, models.AlertLevelEmergency)
	if !acquired {
		return false
	}

	reportCtx, cancel := context.WithTimeout(ctx, d.opts.NotifierTimeout)
	defer cancel()

	report := BuildEmergencyReport(req, d.clock.Now())
	if err := d.reporter.ReportEmergency(reportCtx, report); err != nil {
		d.reports.Release(req.PersonID, models.AlertLevelEmergency)
		d.metrics.EmergencyReport("failed")
		d.logger.Error("Emergency report failed",
			zap.String("person_id", req.PersonID),
			zap.String("report_id", report.ReportID),
			zap.Error(err),
		)
		return false
	}

	d.metrics.EmergencyReport("success")
	return true
}
