package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceSensor 心跳来源
type SourceSensor string

const (
	SourceAccelerometer SourceSensor = "accelerometer"
	SourceOrientation   SourceSensor = "orientation"
	SourceTouch         SourceSensor = "touch"
	SourceScroll        SourceSensor = "scroll"
	SourceKeyboard      SourceSensor = "keyboard"
	SourceTimer         SourceSensor = "timer" // 周期性心跳，与动作无关
)

// Valid 是否为已定义的来源
func (s SourceSensor) Valid() bool {
	switch s {
	case SourceAccelerometer, SourceOrientation, SourceTouch, SourceScroll, SourceKeyboard, SourceTimer:
		return true
	}
	return false
}

// HeartbeatRecord 心跳记录（对应 heartbeats 表，只追加）
type HeartbeatRecord struct {
	ID               string       `json:"id" db:"id"`
	OwnerID          string       `json:"owner_id" db:"owner_id"`
	Timestamp        time.Time    `json:"timestamp" db:"timestamp"`
	MotionCount      int          `json:"motion_count" db:"motion_count"`
	SourceSensor     SourceSensor `json:"source_sensor" db:"source_sensor"`
	DeviceDescriptor string       `json:"device_descriptor,omitempty" db:"device_descriptor"`

	motionCountMissing bool // JSON 中缺少 motion_count 或为 null
}

// NewHeartbeatRecord 创建心跳记录并分配 ID
func NewHeartbeatRecord(ownerID string, ts time.Time, motionCount int, source SourceSensor, device string) HeartbeatRecord {
	return HeartbeatRecord{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		Timestamp:        ts,
		MotionCount:      motionCount,
		SourceSensor:     source,
		DeviceDescriptor: device,
	}
}

// MotionCountMissing 解码的 JSON 是否缺少 motion_count
func (h HeartbeatRecord) MotionCountMissing() bool {
	return h.motionCountMissing
}

// UnmarshalJSON timestamp 同时接受 RFC3339 字符串与毫秒时间戳，并记录 motion_count 是否出现
func (h *HeartbeatRecord) UnmarshalJSON(data []byte) error {
	type alias HeartbeatRecord
	aux := struct {
		*alias
		Timestamp   json.RawMessage `json:"timestamp"`
		MotionCount *int            `json:"motion_count"`
	}{alias: (*alias)(h)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	h.motionCountMissing = aux.MotionCount == nil
	if aux.MotionCount != nil {
		h.MotionCount = *aux.MotionCount
	}

	ts, err := parseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	h.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %s", raw)
	}
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
