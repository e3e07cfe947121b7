// lonelycare-agent 设备端心跳代理：从标准输入读取传感器事件（每行一个 JSON），
// 经冷却与每小时上限过滤后通过 MQTT 上报心跳，并按周期发送与动作无关的心跳。
//
//	{"source":"accelerometer","intensity":3.1}
//	{"source":"touch"}
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/consil800/lonely-care-sub004/common/config"
	"github.com/consil800/lonely-care-sub004/common/logger"
	commonmqtt "github.com/consil800/lonely-care-sub004/common/mqtt"
	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/heartbeat"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	mqttCfg := config.MQTTConfig{
		Broker: "tcp://localhost:1883",
		QoS:    1,
	}
	mqttCfg.LoadFromEnv("MQTT")

	var (
		userID   string
		device   string
		topic    string
		interval time.Duration
		logLevel string
	)

	flagSet := pflag.NewFlagSet("lonelycare-agent", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", os.Getenv("LONELYCARE_USER_ID"), "user ID the heartbeats belong to")
	flagSet.StringVar(&device, "device", "lonelycare-agent", "device descriptor attached to heartbeats")
	flagSet.StringVar(&mqttCfg.Broker, "broker", mqttCfg.Broker, "MQTT broker URL")
	flagSet.StringVar(&mqttCfg.ClientID, "client-id", mqttCfg.ClientID, "MQTT client ID (default: lonelycare-agent-<user>)")
	flagSet.StringVar(&topic, "topic", "lonelycare/+/heartbeat", "heartbeat topic, + is replaced by the user ID")
	flagSet.DurationVar(&interval, "interval", time.Hour, "periodic heartbeat interval")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if mqttCfg.ClientID == "" {
		mqttCfg.ClientID = "lonelycare-agent-" + userID
	}

	log, err := logger.New(logger.Options{
		Level:       logLevel,
		Format:      "console",
		ServiceName: "lonelycare-agent",
	})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync()

	client, err := commonmqtt.NewClient(&mqttCfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}
	defer client.Disconnect()

	opts := heartbeat.DefaultOptions(userID, device)
	opts.PeriodicInterval = interval
	emitter := heartbeat.NewEmitter(opts, clock.System{}, heartbeat.NewMQTTSink(client, topic, mqttCfg.QoS), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动时先报一次，表示设备在线
	if err := emitter.EmitPeriodic(ctx); err != nil {
		log.Warn("Initial heartbeat failed", zap.Error(err))
	}
	if err := emitter.Start(ctx); err != nil {
		return err
	}
	defer emitter.Stop()

	// 标准输入结束后继续发送周期心跳，直到收到信号
	go func() {
		stats, err := emitter.ObserveStream(ctx, os.Stdin)
		if err != nil && ctx.Err() == nil {
			log.Error("Motion event stream failed", zap.Error(err))
		}
		log.Info("Motion event stream ended",
			zap.Int("accepted", stats.Accepted),
			zap.Any("rejected", stats.Rejected),
			zap.Int("failed", stats.Failed),
			zap.Int("invalid", stats.Invalid),
		)
	}()

	<-ctx.Done()
	log.Info("Agent stopped")
	return nil
}
