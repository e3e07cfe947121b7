package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	commonmqtt "github.com/consil800/lonely-care-sub004/common/mqtt"
	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅
type Subscriber interface {
	Subscribe(topic string, qos byte, handler commonmqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Ingestor 心跳入库
type Ingestor interface {
	Ingest(ctx context.Context, hb models.HeartbeatRecord) error
}

// SuspicionRecorder 可疑活动记录
type SuspicionRecorder interface {
	RecordSuspicious(ctx context.Context, logType models.SecurityLogType, userID string, details map[string]interface{})
}

// HeartbeatConsumer 设备心跳消费者（订阅 lonelycare/{userId}/heartbeat）
type HeartbeatConsumer struct {
	subscriber Subscriber
	ingestor   Ingestor
	recorder   SuspicionRecorder
	topic      string
	qos        byte
	logger     *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHeartbeatConsumer 创建心跳消费者
// topic 为带单级通配符的订阅主题，通配符位置即用户ID
func NewHeartbeatConsumer(
	subscriber Subscriber,
	ingestor Ingestor,
	recorder SuspicionRecorder,
	topic string,
	qos byte,
	logger *zap.Logger,
) *HeartbeatConsumer {
	return &HeartbeatConsumer{
		subscriber: subscriber,
		ingestor:   ingestor,
		recorder:   recorder,
		topic:      topic,
		qos:        qos,
		logger:     logger,
	}
}

// Start 订阅心跳主题
func (c *HeartbeatConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("heartbeat consumer already started")
	}
	if !strings.Contains(c.topic, "+") {
		return fmt.Errorf("heartbeat topic %q has no user wildcard", c.topic)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.subscriber.Subscribe(c.topic, c.qos, c.HandleMessage); err != nil {
		c.cancel()
		c.cancel = nil
		return fmt.Errorf("failed to subscribe heartbeat topic: %w", err)
	}

	c.logger.Info("Heartbeat consumer started",
		zap.String("topic", c.topic),
	)
	return nil
}

// Stop 取消订阅
func (c *HeartbeatConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return
	}
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Warn("Failed to unsubscribe heartbeat topic",
			zap.String("topic", c.topic),
			zap.Error(err),
		)
	}
	c.cancel()
	c.cancel = nil
	c.logger.Info("Heartbeat consumer stopped")
}

// HandleMessage 处理一条心跳消息
// 校验失败只记录，不向设备回传原因
func (c *HeartbeatConsumer) HandleMessage(topic string, payload []byte) error {
	ctx := c.context()

	userID, ok := TopicUserID(c.topic, topic)
	if !ok {
		return fmt.Errorf("unexpected heartbeat topic %s", topic)
	}

	var hb models.HeartbeatRecord
	if err := json.Unmarshal(payload, &hb); err != nil {
		return fmt.Errorf("failed to decode heartbeat: %w", err)
	}

	// 未携带 owner_id 时以主题为准
	if hb.OwnerID == "" {
		hb.OwnerID = userID
	}

	if hb.OwnerID != userID {
		c.logger.Warn("Heartbeat owner does not match topic",
			zap.String("topic_user_id", userID),
			zap.String("owner_id", hb.OwnerID),
		)
		c.recorder.RecordSuspicious(ctx, models.LogOwnerMismatch, userID, map[string]interface{}{
			"topic":        topic,
			"owner_id":     hb.OwnerID,
			"heartbeat_id": hb.ID,
		})
		return nil
	}

	if err := c.ingestor.Ingest(ctx, hb); err != nil {
		c.logger.Debug("Heartbeat not registered",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return nil
}

func (c *HeartbeatConsumer) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// TopicUserID 按订阅主题中 "+" 的位置取出用户ID
func TopicUserID(pattern, topic string) (string, bool) {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return "", false
	}

	var userID string
	for i, p := range ps {
		switch {
		case p == "+":
			if ts[i] == "" {
				return "", false
			}
			if userID == "" {
				userID = ts[i]
			}
		case p != ts[i]:
			return "", false
		}
	}
	return userID, userID != ""
}
