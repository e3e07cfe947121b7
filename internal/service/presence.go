package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/consil800/lonely-care-sub004/common/database"
	commonmqtt "github.com/consil800/lonely-care-sub004/common/mqtt"
	commonredis "github.com/consil800/lonely-care-sub004/common/redis"
	"github.com/consil800/lonely-care-sub004/internal/antispoof"
	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/config"
	"github.com/consil800/lonely-care-sub004/internal/consumer"
	"github.com/consil800/lonely-care-sub004/internal/dispatcher"
	"github.com/consil800/lonely-care-sub004/internal/evaluator"
	httpapi "github.com/consil800/lonely-care-sub004/internal/http"
	"github.com/consil800/lonely-care-sub004/internal/metrics"
	"github.com/consil800/lonely-care-sub004/internal/notifier"
	"github.com/consil800/lonely-care-sub004/internal/repository"
	"github.com/consil800/lonely-care-sub004/internal/thresholds"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PresenceService 在线状态与升级服务（整合各层）
type PresenceService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client
	registry    *prometheus.Registry
	logger      *zap.Logger

	// 各层组件
	store      repository.PresenceStore
	friends    repository.FriendDirectory
	thresholds *thresholds.Provider
	validator  *antispoof.Validator
	dispatcher *dispatcher.Dispatcher
	scheduler  *evaluator.Scheduler
	ingestor   *Ingestor
	query      *QueryService
	consumer   *consumer.HeartbeatConsumer
	httpServer *http.Server

	cancel context.CancelFunc
}

// NewPresenceService 创建在线状态服务
func NewPresenceService(cfg *config.Config, logger *zap.Logger) (*PresenceService, error) {
	s := &PresenceService{
		config:   cfg,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 1. 连接存储
	if err := s.openStores(); err != nil {
		s.closeConnections()
		return nil, err
	}

	// 2. 连接 MQTT
	if cfg.Presence.MQTTEnabled {
		client, err := commonmqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeConnections()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.mqttClient = client
	}

	clk := clock.System{}
	m := metrics.NewMetrics(s.registry)

	// 3. 阈值
	s.thresholds = thresholds.NewProvider(s.thresholdSource(), logger)
	s.thresholds.OnApply(m.SetThresholds)

	// 4. 校验、派发、调度
	s.validator = antispoof.NewValidator(antispoof.DefaultOptions(), clk, s.store, m, logger)

	dispatchOpts := dispatcher.DefaultOptions()
	dispatchOpts.NotifierTimeout = cfg.Notifier.Timeout
	dispatchOpts.ReportCooldown = cfg.Notifier.ReportCooldown
	dispatchOpts.LogTimeout = cfg.Presence.StoreTimeout
	s.dispatcher = dispatcher.NewDispatcher(dispatchOpts, s.buildNotifier(), s.store, s.buildReporter(), clk, m, logger)

	s.scheduler = evaluator.NewScheduler(
		s.store,
		s.friends,
		s.thresholds,
		s.validator,
		s.dispatcher,
		clk,
		m,
		cfg.Presence.StoreTimeout,
		logger,
	)

	// 5. 入库与查询
	s.ingestor = NewIngestor(s.store, s.validator, clk, m, cfg.Presence.StoreTimeout, logger)
	s.query = NewQueryService(s.store, s.thresholds, clk, cfg.Presence.StoreTimeout, logger)

	if s.mqttClient != nil {
		s.consumer = consumer.NewHeartbeatConsumer(
			s.mqttClient,
			s.ingestor,
			s.validator,
			cfg.Presence.HeartbeatTopic,
			cfg.MQTT.QoS,
			logger,
		)
	}

	// 6. HTTP
	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start 启动服务
func (s *PresenceService) Start(ctx context.Context) error {
	s.logger.Info("Starting presence service",
		zap.String("store_backend", s.config.Presence.StoreBackend),
		zap.String("threshold_source", s.config.Presence.Thresholds.Source),
		zap.Strings("notifier_backends", s.config.Notifier.Backends),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.thresholds.Start(runCtx, s.config.Presence.Thresholds.RefreshInterval)

	if s.consumer != nil {
		if err := s.consumer.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start heartbeat consumer: %w", err)
		}
	}

	if err := s.scheduler.Start(runCtx, s.config.Presence.SchedulerInterval); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务
func (s *PresenceService) Stop() error {
	s.logger.Info("Stopping presence service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown http server",
			zap.Error(err),
		)
	}

	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.scheduler.Stop()

	if s.cancel != nil {
		s.cancel()
	}

	s.closeConnections()
	return nil
}

// Ingestor 返回心跳入库服务（同进程发射器使用）
func (s *PresenceService) Ingestor() *Ingestor {
	return s.ingestor
}

// Handler 返回 HTTP 路由
func (s *PresenceService) Handler() http.Handler {
	return s.httpServer.Handler
}

// openStores 按配置创建在线状态存储与好友目录
// 好友关系来自 PostgreSQL；memory 后端不连接任何外部存储，好友关系来自 FRIENDS_FILE
func (s *PresenceService) openStores() error {
	cfg := s.config

	if cfg.Presence.StoreBackend == "memory" {
		mem := repository.NewMemoryPresenceStore()
		s.store = mem
		s.friends = mem
		s.logger.Warn("Using in-memory presence store, data is not persisted")

		if cfg.Presence.FriendsFile == "" {
			s.logger.Warn("No FRIENDS_FILE configured, memory mode watches nobody and never escalates")
			return nil
		}
		links, err := repository.LoadFriendLinksFile(cfg.Presence.FriendsFile)
		if err != nil {
			return err
		}
		mem.SetFriendLinks(links)
		s.logger.Info("Loaded friend links from file",
			zap.String("file", cfg.Presence.FriendsFile),
			zap.Int("links", len(links)),
		)
		return nil
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	s.db = db
	s.friends = repository.NewFriendRepository(db, s.logger)

	switch cfg.Presence.StoreBackend {
	case "redis":
		client, err := commonredis.NewRedisClient(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		s.redisClient = client
		s.store = repository.NewRedisPresenceStore(
			client,
			cfg.Presence.Cache.KeyPrefix,
			cfg.Presence.Cache.SecurityLogStream,
			cfg.Presence.Cache.StreamMaxLen,
			s.logger,
		)
	default:
		s.store = repository.NewPostgresPresenceStore(db, s.logger)
	}

	return nil
}

// thresholdSource 按配置选择阈值来源；nil 表示只用默认阈值
func (s *PresenceService) thresholdSource() thresholds.Source {
	switch s.config.Presence.Thresholds.Source {
	case "database":
		if s.db == nil {
			s.logger.Warn("Threshold source database unavailable, using defaults")
			return nil
		}
		return repository.NewThresholdRepository(s.db, s.logger)
	case "file":
		return thresholds.NewFileSource(s.config.Presence.Thresholds.File)
	default:
		return nil
	}
}

// buildNotifier 按配置组合通知后端
func (s *PresenceService) buildNotifier() *notifier.Multi {
	var backends []notifier.Named

	if s.config.HasNotifier("push") {
		if s.config.Push.BaseURL == "" {
			s.logger.Warn("Push notifier enabled but PUSH_BASE_URL is empty, skipped")
		} else {
			backends = append(backends, notifier.Named{
				Name:   "push",
				Sender: notifier.NewPushClient(s.config.Push, s.logger),
			})
		}
	}

	if s.config.HasNotifier("mqtt") {
		if s.mqttClient == nil {
			s.logger.Warn("MQTT notifier enabled but MQTT is disabled, skipped")
		} else {
			backends = append(backends, notifier.Named{
				Name: "mqtt",
				Sender: notifier.NewMQTTNotifier(
					s.mqttClient,
					s.config.Presence.NotificationTopicPrefix,
					s.config.MQTT.QoS,
					s.logger,
				),
			})
		}
	}

	if len(backends) == 0 {
		s.logger.Warn("No notifier backends configured, notifications will fail and retry every tick")
	}
	return notifier.NewMulti(s.logger, backends...)
}

// buildReporter 紧急服务上报；未配置 EMERGENCY_BASE_URL 时返回 nil
func (s *PresenceService) buildReporter() dispatcher.EmergencyReporter {
	if s.config.Emergency.BaseURL == "" {
		s.logger.Info("EMERGENCY_BASE_URL is empty, emergency service reports disabled")
		return nil
	}
	return notifier.NewEmergencyClient(s.config.Emergency, s.logger)
}

func (s *PresenceService) buildRouter() *httpapi.Router {
	handler := httpapi.NewPresenceHandler(
		s.ingestor,
		s.query,
		s.scheduler,
		s.thresholds,
		s.validator,
		s.logger,
	)

	if s.db != nil {
		handler.AddHealthCheck("postgres", s.db.PingContext)
	}
	if s.redisClient != nil {
		handler.AddHealthCheck("redis", func(ctx context.Context) error {
			return commonredis.Ping(ctx, s.redisClient)
		})
	}
	if s.mqttClient != nil {
		handler.AddHealthCheck("mqtt", func(ctx context.Context) error {
			if !s.mqttClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		})
	}

	router := httpapi.NewRouter(s.logger)
	router.RegisterPresenceRoutes(handler)
	router.HandleHandler("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return router
}

func (s *PresenceService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭 Redis 连接
	if s.redisClient != nil {
		if err := commonredis.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis",
				zap.Error(err),
			)
		}
	}

	// 关闭数据库连接
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database",
				zap.Error(err),
			)
		}
	}
}
