package thresholds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// ErrInvalidThresholds 阈值不满足 0 < warning < danger < emergency
var ErrInvalidThresholds = errors.New("invalid thresholds")

// Source 阈值来源（数据库、YAML 文件等）
type Source interface {
	LoadThresholds(ctx context.Context) (models.ThresholdConfig, error)
}

// UpdateHook 阈值变更回调
type UpdateHook func(models.ThresholdConfig)

// Provider 阈值提供者，对引擎其余部分只读
type Provider struct {
	mu      sync.RWMutex
	current models.ThresholdConfig
	source  Source
	onApply UpdateHook
	logger  *zap.Logger
}

// NewProvider 创建阈值提供者，初始为默认阈值；source 可为 nil
func NewProvider(source Source, logger *zap.Logger) *Provider {
	return &Provider{
		current: models.DefaultThresholds(),
		source:  source,
		logger:  logger,
	}
}

// OnApply 设置阈值生效回调（用于指标上报）
func (p *Provider) OnApply(hook UpdateHook) {
	p.mu.Lock()
	p.onApply = hook
	cur := p.current
	p.mu.Unlock()
	if hook != nil {
		hook(cur)
	}
}

// Current 返回当前阈值
func (p *Provider) Current() models.ThresholdConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Update 校验并替换阈值；校验失败时保留原阈值
func (p *Provider) Update(cfg models.ThresholdConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidThresholds, err)
	}

	p.mu.Lock()
	changed := p.current != cfg
	p.current = cfg
	hook := p.onApply
	p.mu.Unlock()

	if changed {
		p.logger.Info("Thresholds updated",
			zap.Duration("warning", cfg.Warning),
			zap.Duration("danger", cfg.Danger),
			zap.Duration("emergency", cfg.Emergency),
		)
		if hook != nil {
			hook(cfg)
		}
	}
	return nil
}

// Refresh 从来源重新加载阈值
func (p *Provider) Refresh(ctx context.Context) error {
	if p.source == nil {
		return nil
	}

	cfg, err := p.source.LoadThresholds(ctx)
	if err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}
	return p.Update(cfg)
}

// Start 立即加载一次，然后按 interval 周期刷新，直到 ctx 取消
func (p *Provider) Start(ctx context.Context, interval time.Duration) {
	if p.source == nil {
		return
	}

	p.refreshAndLog(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refreshAndLog(ctx)
			}
		}
	}()
}

func (p *Provider) refreshAndLog(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil {
		// 保留当前阈值
		p.logger.Warn("Failed to refresh thresholds, keeping current values",
			zap.Error(err),
		)
	}
}
