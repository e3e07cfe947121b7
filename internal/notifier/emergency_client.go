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

// emergencyResponse 紧急服务网关响应
type emergencyResponse struct {
	Success  bool   `json:"success"`
	ReportID string `json:"reportId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EmergencyClient 紧急服务上报客户端（119 网关等 HTTP 端点）
type EmergencyClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewEmergencyClient 创建紧急服务上报客户端
func NewEmergencyClient(cfg config.PushGatewayConfig, logger *zap.Logger) *EmergencyClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &EmergencyClient{
		httpClient: client,
		logger:     logger,
	}
}

// ReportEmergency 上报紧急情况
func (c *EmergencyClient) ReportEmergency(ctx context.Context, report models.EmergencyReport) error {
	var response emergencyResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(report).
		SetResult(&response).
		SetError(&response).
		Post("/reportEmergency")

	if err != nil {
		return fmt.Errorf("failed to call emergency gateway: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("emergency gateway error: status %d: %s", resp.StatusCode(), response.Error)
	}

	if !response.Success {
		return fmt.Errorf("emergency gateway rejected report: %s", response.Error)
	}

	c.logger.Info("Emergency report accepted",
		zap.String("person_id", report.PersonID),
		zap.String("report_id", report.ReportID),
		zap.String("gateway_report_id", response.ReportID),
	)
	return nil
}
