package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification 发给观察者的通知
type Notification struct {
	RecipientID      string            `json:"userId"`
	Title            string            `json:"title"`
	Body             string            `json:"body"`
	Type             string            `json:"type"`
	AlertLevel       AlertLevel        `json:"alertLevel"`
	ObservedPersonID string            `json:"-"`
	Data             map[string]string `json:"data,omitempty"`
	CreatedAt        time.Time         `json:"-"`
}

// NotificationTypeFriendStatus 好友状态通知类型
const NotificationTypeFriendStatus = "friend_status"

// CooldownEntry 通知冷却记录，键为 (ObservedPersonID, AlertLevel)
type CooldownEntry struct {
	ObservedPersonID string     `json:"observed_person_id"`
	AlertLevel       AlertLevel `json:"alert_level"`
	SentAt           time.Time  `json:"sent_at"`
}

// NotificationPriority 通知优先级
type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// PriorityForLevel emergency 为 urgent，danger 为 high，其余为 normal
func PriorityForLevel(level AlertLevel) NotificationPriority {
	switch level {
	case AlertLevelEmergency:
		return PriorityUrgent
	case AlertLevelDanger:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// NotificationLog 通知发送记录（对应 notification_logs 表，只追加）
type NotificationLog struct {
	ID                  string               `json:"id" db:"id"`
	RecipientID         string               `json:"recipient_id" db:"recipient_id"`
	Title               string               `json:"title" db:"title"`
	Message             string               `json:"message" db:"message"`
	Type                string               `json:"type" db:"type"`
	Priority            NotificationPriority `json:"priority" db:"priority"`
	FriendID            string               `json:"friend_id" db:"friend_id"`
	FriendName          string               `json:"friend_name" db:"friend_name"`
	HoursSinceHeartbeat int                  `json:"hours_since_heartbeat" db:"hours_since_heartbeat"`
	AlertLevel          AlertLevel           `json:"alert_level" db:"alert_level"`
	SentAt              time.Time            `json:"sent_at" db:"sent_at"`
}

// NewNotificationLog 由已送达的通知生成发送记录
func NewNotificationLog(n Notification, friendName string, hours int) NotificationLog {
	return NotificationLog{
		ID:                  uuid.New().String(),
		RecipientID:         n.RecipientID,
		Title:               n.Title,
		Message:             n.Body,
		Type:                n.Type,
		Priority:            PriorityForLevel(n.AlertLevel),
		FriendID:            n.ObservedPersonID,
		FriendName:          friendName,
		HoursSinceHeartbeat: hours,
		AlertLevel:          n.AlertLevel,
		SentAt:              n.CreatedAt,
	}
}

// EmergencyReport 紧急服务上报内容（emergency 级别）
type EmergencyReport struct {
	ReportID            string     `json:"reportId"`
	PersonID            string     `json:"userId"`
	Name                string     `json:"name"`
	Phone               string     `json:"phone"`
	Address             string     `json:"address"`
	HoursSinceHeartbeat int        `json:"hoursSinceHeartbeat"`
	LastHeartbeatAt     *time.Time `json:"lastHeartbeatAt,omitempty"`
	ReportedAt          time.Time  `json:"reportedAt"`
}
