package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/antispoof"
	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/metrics"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeartbeatValidator 心跳校验
type HeartbeatValidator interface {
	ValidateHeartbeat(ctx context.Context, hb models.HeartbeatRecord) error
	ValidateStatusTransition(ctx context.Context, userID string, oldLevel, newLevel models.AlertLevel, elapsed time.Duration) bool
}

// Ingestor 心跳入库：校验 → 写 heartbeats → 更新 user_status 为 normal
type Ingestor struct {
	store        repository.PresenceStore
	validator    HeartbeatValidator
	clock        clock.Clock
	metrics      *metrics.Metrics
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewIngestor 创建心跳入库服务
func NewIngestor(
	store repository.PresenceStore,
	validator HeartbeatValidator,
	clk clock.Clock,
	m *metrics.Metrics,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		store:        store,
		validator:    validator,
		clock:        clk,
		metrics:      m,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// Deliver 实现 heartbeat.Sink，同进程发射器直接入库
func (i *Ingestor) Deliver(ctx context.Context, hb models.HeartbeatRecord) error {
	return i.Ingest(ctx, hb)
}

// Ingest 处理一条心跳
// 校验失败返回 antispoof 的哨兵错误；存储失败返回 repository.ErrStoreUnavailable
func (i *Ingestor) Ingest(ctx context.Context, hb models.HeartbeatRecord) error {
	if hb.ID == "" {
		hb.ID = uuid.New().String()
	}

	if err := i.validator.ValidateHeartbeat(ctx, hb); err != nil {
		i.metrics.HeartbeatRejected(rejectReason(err))
		i.logger.Debug("Heartbeat rejected",
			zap.String("user_id", hb.OwnerID),
			zap.Error(err),
		)
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()

	if err := i.store.AppendHeartbeat(sctx, hb); err != nil {
		i.metrics.HeartbeatRejected("store_unavailable")
		i.logger.Error("Failed to save heartbeat",
			zap.String("user_id", hb.OwnerID),
			zap.String("heartbeat_id", hb.ID),
			zap.Error(err),
		)
		if errors.Is(err, repository.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("failed to save heartbeat: %w: %w", repository.ErrStoreUnavailable, err)
	}

	i.metrics.HeartbeatAccepted()

	// 心跳已落库，状态更新失败由下一次调度根据最近心跳修正
	if err := i.markNormal(sctx, hb); err != nil {
		i.logger.Warn("Failed to update presence after heartbeat",
			zap.String("user_id", hb.OwnerID),
			zap.Error(err),
		)
	}

	return nil
}

// markNormal 有心跳即恢复 normal，并检查状态变化模式
func (i *Ingestor) markNormal(ctx context.Context, hb models.HeartbeatRecord) error {
	now := i.clock.Now()

	prev, err := i.store.GetPresence(ctx, hb.OwnerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	last := hb.Timestamp
	if prev != nil && prev.LastHeartbeatAt != nil && prev.LastHeartbeatAt.After(last) {
		last = *prev.LastHeartbeatAt
	}

	if prev != nil && prev.LastComputedLevel != models.AlertLevelNormal && prev.LastComputedLevel != models.AlertLevelUnknown {
		i.validator.ValidateStatusTransition(ctx, hb.OwnerID, prev.LastComputedLevel, models.AlertLevelNormal, now.Sub(prev.UpdatedAt))
	}

	return i.store.SavePresence(ctx, models.PresenceState{
		UserID:            hb.OwnerID,
		LastHeartbeatAt:   &last,
		LastComputedLevel: models.AlertLevelNormal,
		UpdatedAt:         now,
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, antispoof.ErrRateLimitExceeded):
		return "rate_limit"
	case errors.Is(err, antispoof.ErrTimestampDrift):
		return "timestamp_drift"
	case errors.Is(err, antispoof.ErrValidation):
		return "invalid_data"
	default:
		return "other"
	}
}
