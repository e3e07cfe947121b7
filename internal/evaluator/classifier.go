package evaluator

import (
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"
)

// Classify 按无响应时长计算告警级别（单调阶梯函数，无滞回）
func Classify(elapsed time.Duration, t models.ThresholdConfig) models.AlertLevel {
	switch {
	case elapsed >= t.Emergency:
		return models.AlertLevelEmergency
	case elapsed >= t.Danger:
		return models.AlertLevelDanger
	case elapsed >= t.Warning:
		return models.AlertLevelWarning
	default:
		return models.AlertLevelNormal
	}
}

// ClassifyPresence 从未收到心跳时返回 unknown
func ClassifyPresence(lastHeartbeatAt *time.Time, now time.Time, t models.ThresholdConfig) (models.AlertLevel, time.Duration) {
	if lastHeartbeatAt == nil {
		return models.AlertLevelUnknown, 0
	}
	elapsed := now.Sub(*lastHeartbeatAt)
	return Classify(elapsed, t), elapsed
}
