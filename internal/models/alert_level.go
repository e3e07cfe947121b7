package models

import (
	"encoding/json"
	"fmt"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelUnknown   AlertLevel = "unknown"   // 从未收到心跳
	AlertLevelNormal    AlertLevel = "normal"    // 正常
	AlertLevelWarning   AlertLevel = "warning"   // 一般警告
	AlertLevelDanger    AlertLevel = "danger"    // 危险
	AlertLevelEmergency AlertLevel = "emergency" // 紧急
)

// ActionableLevels 需要派发通知的级别（按严重程度升序）
var ActionableLevels = []AlertLevel{AlertLevelWarning, AlertLevelDanger, AlertLevelEmergency}

// Severity 严重程度，unknown < normal < warning < danger < emergency
func (l AlertLevel) Severity() int {
	switch l {
	case AlertLevelNormal:
		return 1
	case AlertLevelWarning:
		return 2
	case AlertLevelDanger:
		return 3
	case AlertLevelEmergency:
		return 4
	default:
		return 0
	}
}

// Actionable 是否需要派发通知
func (l AlertLevel) Actionable() bool {
	return l.Severity() >= AlertLevelWarning.Severity()
}

// Valid 是否为已定义的级别
func (l AlertLevel) Valid() bool {
	switch l {
	case AlertLevelUnknown, AlertLevelNormal, AlertLevelWarning, AlertLevelDanger, AlertLevelEmergency:
		return true
	}
	return false
}

// ParseAlertLevel 解析告警级别，空字符串视为 unknown
func ParseAlertLevel(s string) (AlertLevel, error) {
	if s == "" {
		return AlertLevelUnknown, nil
	}
	l := AlertLevel(s)
	if !l.Valid() {
		return AlertLevelUnknown, fmt.Errorf("invalid alert level: %s", s)
	}
	return l, nil
}

// UnmarshalJSON 拒绝未定义的级别
func (l *AlertLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAlertLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
