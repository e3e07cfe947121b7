package models

import "time"

// PresenceState 用户在线状态（对应 user_status 表，每个用户一条）
type PresenceState struct {
	UserID            string     `json:"user_id" db:"user_id"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	LastComputedLevel AlertLevel `json:"last_computed_level" db:"last_computed_level"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// FriendLink 观察者与被关注者的关系（对应 friends 表中 status='active' 的记录）
type FriendLink struct {
	ObserverID string `json:"observer_id" db:"user_id"`
	FriendID   string `json:"friend_id" db:"friend_id"`
	FriendName string `json:"friend_name" db:"friend_name"`

	FriendPhone   string `json:"friend_phone,omitempty" db:"friend_phone"`
	FriendAddress string `json:"friend_address,omitempty" db:"friend_address"`
}

// PresenceView 在线状态视图（按当前阈值实时计算）
type PresenceView struct {
	UserID            string     `json:"user_id"`
	Level             AlertLevel `json:"level"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_at,omitempty"`
	ElapsedSeconds    int64      `json:"elapsed_seconds"`
	LastComputedLevel AlertLevel `json:"last_computed_level"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}
