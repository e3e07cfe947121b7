package heartbeat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic string
	qos   byte
	v     interface{}
}

type fakePublisher struct {
	msgs []published
}

func (f *fakePublisher) PublishJSON(topic string, qos byte, v interface{}) error {
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, v: v})
	return nil
}

func TestMQTTSink_Deliver(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "lonelycare/+/heartbeat", 1)

	hb := models.NewHeartbeatRecord("user-1", time.Now(), 2, models.SourceTouch, "")
	require.NoError(t, sink.Deliver(context.Background(), hb))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "lonelycare/user-1/heartbeat", pub.msgs[0].topic)
	assert.Equal(t, byte(1), pub.msgs[0].qos)
	assert.Equal(t, hb, pub.msgs[0].v)
}

func TestMQTTSink_CancelledContext(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "lonelycare/+/heartbeat", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sink.Deliver(ctx, models.NewHeartbeatRecord("user-1", time.Now(), 0, models.SourceTimer, "")))
	assert.Empty(t, pub.msgs)
}

func TestEmitter_ObserveStream(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	pub := &fakePublisher{}
	e := NewEmitter(DefaultOptions("user-1", "agent"), clk, NewMQTTSink(pub, "lonelycare/+/heartbeat", 1), zap.NewNop())

	input := strings.Join([]string{
		`{"source":"touch"}`,
		`{"source":"touch"}`,
		``,
		`not json`,
		`{"source":"orientation","intensity":3}`,
	}, "\n")

	stats, err := e.ObserveStream(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected[RejectCooldown])
	assert.Equal(t, 1, stats.Rejected[RejectBelowThreshold])
	assert.Equal(t, 1, stats.Invalid)
	assert.Len(t, pub.msgs, 1)
}
