package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// Sender 单个通知后端
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// Named 带名称的通知后端
type Named struct {
	Name   string
	Sender Sender
}

// Multi 依次调用所有后端；任一后端成功即视为送达
type Multi struct {
	backends []Named
	logger   *zap.Logger
}

// NewMulti 创建组合通知
func NewMulti(logger *zap.Logger, backends ...Named) *Multi {
	return &Multi{
		backends: backends,
		logger:   logger,
	}
}

// Send 发送通知
func (m *Multi) Send(ctx context.Context, n models.Notification) error {
	if len(m.backends) == 0 {
		return errors.New("no notifier backends configured")
	}

	var errs []error
	for _, b := range m.backends {
		if err := b.Sender.Send(ctx, n); err != nil {
			m.logger.Warn("Notifier backend failed",
				zap.String("backend", b.Name),
				zap.String("recipient_id", n.RecipientID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
		}
	}

	if len(errs) == len(m.backends) {
		return errors.Join(errs...)
	}
	return nil
}
