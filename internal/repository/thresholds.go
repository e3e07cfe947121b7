package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// ThresholdRepository 告警阈值仓库（notification_settings 表，由管理后台维护）
type ThresholdRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewThresholdRepository 创建告警阈值仓库
func NewThresholdRepository(db *sql.DB, logger *zap.Logger) *ThresholdRepository {
	return &ThresholdRepository{
		db:     db,
		logger: logger,
	}
}

// LoadThresholds 读取最新的阈值设置（分钟）
func (r *ThresholdRepository) LoadThresholds(ctx context.Context) (models.ThresholdConfig, error) {
	query := `
		SELECT warning_minutes, danger_minutes, emergency_minutes
		FROM notification_settings
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var warning, danger, emergency int
	err := r.db.QueryRowContext(ctx, query).Scan(&warning, &danger, &emergency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ThresholdConfig{}, fmt.Errorf("no notification settings: %w", ErrNotFound)
		}
		return models.ThresholdConfig{}, unavailable("query notification settings", err)
	}

	return models.ThresholdsFromMinutes(warning, danger, emergency), nil
}
