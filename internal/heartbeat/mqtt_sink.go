package heartbeat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布
type Publisher interface {
	PublishJSON(topic string, qos byte, v interface{}) error
}

// MQTTSink 通过 MQTT 上报心跳（主题 lonelycare/{userId}/heartbeat）
type MQTTSink struct {
	publisher Publisher
	topic     string
	qos       byte
}

// NewMQTTSink 创建 MQTT 心跳投递；topicPattern 中的 "+" 替换为用户ID
func NewMQTTSink(publisher Publisher, topicPattern string, qos byte) *MQTTSink {
	return &MQTTSink{
		publisher: publisher,
		topic:     topicPattern,
		qos:       qos,
	}
}

// Topic 返回用户的心跳主题
func (s *MQTTSink) Topic(userID string) string {
	return strings.Replace(s.topic, "+", userID, 1)
}

// Deliver 发布心跳
func (s *MQTTSink) Deliver(ctx context.Context, hb models.HeartbeatRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.publisher.PublishJSON(s.Topic(hb.OwnerID), s.qos, hb)
}

// StreamStats 事件流处理统计
type StreamStats struct {
	Accepted int
	Rejected map[string]int
	Failed   int
	Invalid  int
}

// ObserveStream 逐行读取 JSON 格式的 MotionEvent 并交给发射器，直到 EOF 或 ctx 取消
func (e *Emitter) ObserveStream(ctx context.Context, r io.Reader) (StreamStats, error) {
	stats := StreamStats{Rejected: make(map[string]int)}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev MotionEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			stats.Invalid++
			e.logger.Warn("Invalid motion event", zap.String("line", line), zap.Error(err))
			continue
		}

		accepted, reason, err := e.Observe(ctx, ev)
		switch {
		case !accepted:
			stats.Rejected[reason]++
		case err != nil:
			stats.Failed++
		default:
			stats.Accepted++
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read motion events: %w", err)
	}
	return stats, nil
}
