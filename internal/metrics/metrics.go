package metrics

import (
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lonelycare"

// Metrics 在线状态引擎指标；nil 接收者上的方法均为空操作
type Metrics struct {
	heartbeatsAccepted prometheus.Counter
	heartbeatsRejected *prometheus.CounterVec
	suspiciousActivity *prometheus.CounterVec

	notificationsSent       *prometheus.CounterVec
	notificationsFailed     *prometheus.CounterVec
	notificationsSuppressed *prometheus.CounterVec
	emergencyReports        *prometheus.CounterVec

	schedulerTicks        prometheus.Counter
	schedulerSkipped      prometheus.Counter
	schedulerTickDuration prometheus.Histogram
	presenceLevels        *prometheus.GaugeVec

	thresholdSeconds *prometheus.GaugeVec
}

// NewMetrics 创建指标并注册到 reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		heartbeatsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_accepted_total",
			Help:      "Heartbeats that passed validation and were stored",
		}),
		heartbeatsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_rejected_total",
			Help:      "Heartbeats rejected by validation or storage",
		}, []string{"reason"}),
		suspiciousActivity: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_activity_total",
			Help:      "Suspicious activity entries by type",
		}, []string{"type"}),

		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered to observers",
		}, []string{"level"}),
		notificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Dispatches whose delivery failed and whose cooldown was rolled back",
		}, []string{"level"}),
		notificationsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_suppressed_total",
			Help:      "Dispatch requests blocked by an active cooldown",
		}, []string{"level"}),
		emergencyReports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_reports_total",
			Help:      "Emergency service reports by result",
		}, []string{"result"}),

		schedulerTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Escalation scheduler ticks",
		}),
		schedulerSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_skipped_total",
			Help:      "Watched people skipped in a tick because the store was unavailable",
		}),
		schedulerTickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Escalation scheduler tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		presenceLevels: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_level_people",
			Help:      "Watched people per alert level at the last tick",
		}, []string{"level"}),

		thresholdSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_seconds",
			Help:      "Active alert thresholds in seconds",
		}, []string{"level"}),
	}
}

// HeartbeatAccepted 记录心跳通过
func (m *Metrics) HeartbeatAccepted() {
	if m == nil {
		return
	}
	m.heartbeatsAccepted.Inc()
}

// HeartbeatRejected 记录心跳被拒绝
func (m *Metrics) HeartbeatRejected(reason string) {
	if m == nil {
		return
	}
	m.heartbeatsRejected.WithLabelValues(reason).Inc()
}

// SuspiciousActivity 记录可疑活动
func (m *Metrics) SuspiciousActivity(t models.SecurityLogType) {
	if m == nil {
		return
	}
	m.suspiciousActivity.WithLabelValues(string(t)).Inc()
}

// NotificationSent 记录通知送达
func (m *Metrics) NotificationSent(level models.AlertLevel) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(string(level)).Inc()
}

// NotificationFailed 记录通知失败
func (m *Metrics) NotificationFailed(level models.AlertLevel) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(string(level)).Inc()
}

// NotificationSuppressed 记录冷却期内被抑制的请求
func (m *Metrics) NotificationSuppressed(level models.AlertLevel) {
	if m == nil {
		return
	}
	m.notificationsSuppressed.WithLabelValues(string(level)).Inc()
}

// EmergencyReport 记录紧急服务上报结果（"success" / "failed"）
func (m *Metrics) EmergencyReport(result string) {
	if m == nil {
		return
	}
	m.emergencyReports.WithLabelValues(result).Inc()
}

// ObserveTick 记录一次调度
func (m *Metrics) ObserveTick(d time.Duration, skipped int, levels map[models.AlertLevel]int) {
	if m == nil {
		return
	}
	m.schedulerTicks.Inc()
	m.schedulerSkipped.Add(float64(skipped))
	m.schedulerTickDuration.Observe(d.Seconds())
	for _, l := range []models.AlertLevel{
		models.AlertLevelUnknown, models.AlertLevelNormal,
		models.AlertLevelWarning, models.AlertLevelDanger, models.AlertLevelEmergency,
	} {
		m.presenceLevels.WithLabelValues(string(l)).Set(float64(levels[l]))
	}
}

// SetThresholds 上报当前阈值
func (m *Metrics) SetThresholds(cfg models.ThresholdConfig) {
	if m == nil {
		return
	}
	for _, l := range models.ActionableLevels {
		m.thresholdSeconds.WithLabelValues(string(l)).Set(cfg.For(l).Seconds())
	}
}
