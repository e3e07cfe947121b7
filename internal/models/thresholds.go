package models

import (
	"fmt"
	"time"
)

// ThresholdConfig 告警阈值，要求 0 < Warning < Danger < Emergency
type ThresholdConfig struct {
	Warning   time.Duration `json:"warning"`
	Danger    time.Duration `json:"danger"`
	Emergency time.Duration `json:"emergency"`
}

// DefaultThresholds 默认阈值：24h / 48h / 72h
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		Warning:   1440 * time.Minute,
		Danger:    2880 * time.Minute,
		Emergency: 4320 * time.Minute,
	}
}

// ThresholdsFromMinutes 按分钟构造阈值（notification_settings 以分钟存储）
func ThresholdsFromMinutes(warning, danger, emergency int) ThresholdConfig {
	return ThresholdConfig{
		Warning:   time.Duration(warning) * time.Minute,
		Danger:    time.Duration(danger) * time.Minute,
		Emergency: time.Duration(emergency) * time.Minute,
	}
}

// Validate 校验阈值顺序
func (c ThresholdConfig) Validate() error {
	if c.Warning <= 0 {
		return fmt.Errorf("warning threshold must be positive, got %s", c.Warning)
	}
	if c.Danger <= c.Warning {
		return fmt.Errorf("danger threshold %s must exceed warning %s", c.Danger, c.Warning)
	}
	if c.Emergency <= c.Danger {
		return fmt.Errorf("emergency threshold %s must exceed danger %s", c.Emergency, c.Danger)
	}
	return nil
}

// For 返回某个可派发级别对应的阈值
func (c ThresholdConfig) For(level AlertLevel) time.Duration {
	switch level {
	case AlertLevelWarning:
		return c.Warning
	case AlertLevelDanger:
		return c.Danger
	case AlertLevelEmergency:
		return c.Emergency
	}
	return 0
}
