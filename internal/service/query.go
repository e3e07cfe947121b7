package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/evaluator"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultLogLimit    = 100
	maxLogLimit        = 1000
	maxHeartbeatWindow = 31 * 24 * time.Hour
)

// QueryService 查询服务层
// 职责：
// 1. 参数校验与默认值
// 2. 组合存储数据与当前阈值
type QueryService struct {
	store        repository.PresenceStore
	thresholds   evaluator.ThresholdReader
	clock        clock.Clock
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewQueryService 创建查询服务
func NewQueryService(
	store repository.PresenceStore,
	thresholds evaluator.ThresholdReader,
	clk clock.Clock,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *QueryService {
	return &QueryService{
		store:        store,
		thresholds:   thresholds,
		clock:        clk,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// ============================================
// 在线状态
// ============================================

// GetPresence 获取用户在线状态
// 业务规则：
// - userID 必填
// - 无任何记录时级别为 unknown，不是 normal
func (s *QueryService) GetPresence(ctx context.Context, userID string) (*models.PresenceView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", repository.ErrInvalidQuery)
	}

	qctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	state, err := s.store.GetPresence(qctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Failed to get presence",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	hb, err := s.store.GetLatestHeartbeat(qctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Failed to get latest heartbeat",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get latest heartbeat: %w", err)
	}

	view := &models.PresenceView{
		UserID:            userID,
		LastComputedLevel: models.AlertLevelUnknown,
	}

	var last *time.Time
	if state != nil {
		view.LastComputedLevel = state.LastComputedLevel
		updated := state.UpdatedAt
		view.UpdatedAt = &updated
		if state.LastHeartbeatAt != nil {
			t := *state.LastHeartbeatAt
			last = &t
		}
	}
	if hb != nil && (last == nil || hb.Timestamp.After(*last)) {
		t := hb.Timestamp
		last = &t
	}

	level, elapsed := evaluator.ClassifyPresence(last, s.clock.Now(), s.thresholds.Current())
	view.Level = level
	view.LastHeartbeatAt = last
	view.ElapsedSeconds = int64(elapsed / time.Second)

	return view, nil
}

// ListHeartbeats 查询心跳记录
// 业务规则：
// - userID 必填
// - from 必须早于 to；零值 to 表示当前时间，零值 from 表示 to 前 24 小时
// - 时间范围不超过 31 天
func (s *QueryService) ListHeartbeats(ctx context.Context, userID string, from, to time.Time) ([]models.HeartbeatRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", repository.ErrInvalidQuery)
	}
	if to.IsZero() {
		to = s.clock.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", repository.ErrInvalidQuery)
	}
	if to.Sub(from) > maxHeartbeatWindow {
		return nil, fmt.Errorf("%w: range exceeds %s", repository.ErrInvalidQuery, maxHeartbeatWindow)
	}

	qctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	hbs, err := s.store.QueryHeartbeats(qctx, userID, from, to)
	if err != nil {
		s.logger.Error("Failed to query heartbeats",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to query heartbeats: %w", err)
	}
	return hbs, nil
}

// ============================================
// 安全日志
// ============================================

// ListSecurityLogs 查询安全日志
// 业务规则：
// - limit 默认 100，最大 1000
// - 类型必须为已定义的安全日志类型
func (s *QueryService) ListSecurityLogs(ctx context.Context, filter repository.SecurityLogFilter) ([]models.SuspiciousActivityEntry, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown log type %q", repository.ErrInvalidQuery, filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, fmt.Errorf("%w: from must not be after to", repository.ErrInvalidQuery)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLogLimit
	}
	if filter.Limit > maxLogLimit {
		filter.Limit = maxLogLimit
	}

	qctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	logs, err := s.store.QuerySecurityLogs(qctx, filter)
	if err != nil {
		s.logger.Error("Failed to query security logs",
			zap.String("user_id", filter.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to query security logs: %w", err)
	}
	return logs, nil
}
