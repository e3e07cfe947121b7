package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/consil800/lonely-care-sub004/common/config"
	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// pushRequest 推送网关请求体（sendNotification 云函数）
type pushRequest struct {
	UserID     string            `json:"userId"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Type       string            `json:"type"`
	AlertLevel string            `json:"alertLevel"`
	Data       map[string]string `json:"data"`
}

// pushResponse 推送网关响应
type pushResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PushClient 推送网关客户端（FCM 云函数等 HTTP 端点）
type PushClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewPushClient 创建推送网关客户端
func NewPushClient(cfg config.PushGatewayConfig, logger *zap.Logger) *PushClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// 网关 5xx 视为临时故障
			return r != nil && r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &PushClient{
		httpClient: client,
		logger:     logger,
	}
}

// Send 发送推送通知
func (c *PushClient) Send(ctx context.Context, n models.Notification) error {
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}

	request := pushRequest{
		UserID:     n.RecipientID,
		Title:      n.Title,
		Body:       n.Body,
		Type:       n.Type,
		AlertLevel: string(n.AlertLevel),
		Data:       data,
	}

	var response pushResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post("/sendNotification")

	if err != nil {
		c.logger.Error("Push gateway call failed",
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call push gateway: %w", err)
	}

	if resp.IsError() {
		c.logger.Error("Push gateway returned error",
			zap.String("recipient_id", n.RecipientID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error", response.Error),
		)
		return fmt.Errorf("push gateway error: status %d: %s", resp.StatusCode(), response.Error)
	}

	if !response.Success {
		return fmt.Errorf("push gateway rejected notification: %s", response.Error)
	}

	c.logger.Debug("Push notification sent",
		zap.String("recipient_id", n.RecipientID),
		zap.String("level", string(n.AlertLevel)),
	)
	return nil
}
