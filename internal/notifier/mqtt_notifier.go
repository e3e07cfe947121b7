package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布
type Publisher interface {
	PublishJSON(topic string, qos byte, v interface{}) error
}

// inAppMessage 应用内通知消息
type inAppMessage struct {
	models.Notification
	FriendID  string `json:"friendId"`
	CreatedAt int64  `json:"createdAt"`
}

// MQTTNotifier 应用内通知：发布到 {prefix}{userId}/notifications
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 通知
func NewMQTTNotifier(publisher Publisher, topicPrefix string, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// Topic 返回用户的通知主题
func (m *MQTTNotifier) Topic(userID string) string {
	return fmt.Sprintf("%s%s/notifications", m.topicPrefix, userID)
}

// Send 发布应用内通知
func (m *MQTTNotifier) Send(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	msg := inAppMessage{
		Notification: n,
		FriendID:     n.ObservedPersonID,
		CreatedAt:    createdAt.UnixMilli(),
	}

	if err := m.publisher.PublishJSON(m.Topic(n.RecipientID), m.qos, msg); err != nil {
		return fmt.Errorf("failed to publish in-app notification: %w", err)
	}
	return nil
}
