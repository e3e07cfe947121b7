package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/consil800/lonely-care-sub004/common/logger"
	"github.com/consil800/lonely-care-sub004/internal/config"
	"github.com/consil800/lonely-care-sub004/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "lonelycare-presence",
		File:        cfg.Log.File,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	presenceService, err := service.NewPresenceService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create presence service",
			zap.Error(err),
		)
	}

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务
	if err := presenceService.Start(ctx); err != nil {
		log.Error("Failed to start presence service",
			zap.Error(err),
		)
		_ = presenceService.Stop()
		return
	}

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()
	_ = presenceService.Stop()

	log.Info("Presence service stopped")
}
