package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/antispoof"
	"github.com/consil800/lonely-care-sub004/internal/evaluator"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeartbeatIngestor 心跳入库
type HeartbeatIngestor interface {
	Ingest(ctx context.Context, hb models.HeartbeatRecord) error
}

// PresenceQuerier 查询
type PresenceQuerier interface {
	GetPresence(ctx context.Context, userID string) (*models.PresenceView, error)
	ListHeartbeats(ctx context.Context, userID string, from, to time.Time) ([]models.HeartbeatRecord, error)
	ListSecurityLogs(ctx context.Context, filter repository.SecurityLogFilter) ([]models.SuspiciousActivityEntry, error)
}

// TickRunner 手动触发一次调度
type TickRunner interface {
	RunOnce(ctx context.Context) (evaluator.TickReport, error)
}

// SecurityStatusReader 校验器状态
type SecurityStatusReader interface {
	Status() antispoof.Status
}

// HealthCheck 依赖健康检查
type HealthCheck func(ctx context.Context) error

// ThresholdsView 阈值（分钟）
type ThresholdsView struct {
	WarningMinutes   int `json:"warning_minutes"`
	DangerMinutes    int `json:"danger_minutes"`
	EmergencyMinutes int `json:"emergency_minutes"`
}

const (
	maxHeartbeatBody = 64 << 10
	// 完整性校验失败不向客户端说明原因
	msgHeartbeatNotRegistered = "heartbeat not registered"
)

// PresenceHandler 心跳与在线状态接口
type PresenceHandler struct {
	ingestor   HeartbeatIngestor
	query      PresenceQuerier
	scheduler  TickRunner
	thresholds evaluator.ThresholdReader
	security   SecurityStatusReader
	checks     map[string]HealthCheck
	logger     *zap.Logger
}

func NewPresenceHandler(
	ingestor HeartbeatIngestor,
	query PresenceQuerier,
	scheduler TickRunner,
	thresholds evaluator.ThresholdReader,
	security SecurityStatusReader,
	logger *zap.Logger,
) *PresenceHandler {
	return &PresenceHandler{
		ingestor:   ingestor,
		query:      query,
		scheduler:  scheduler,
		thresholds: thresholds,
		security:   security,
		checks:     make(map[string]HealthCheck),
		logger:     logger,
	}
}

// AddHealthCheck 注册 /healthz 检查项
func (h *PresenceHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// POST /api/v1/heartbeats
// body: HeartbeatRecord（timestamp 为 RFC3339 或毫秒）
func (h *PresenceHandler) PostHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.HeartbeatRecord
	if err := readBodyJSON(r, maxHeartbeatBody, &hb); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if hb.ID == "" {
		hb.ID = uuid.New().String()
	}
	if hb.OwnerID == "" {
		hb.OwnerID = r.Header.Get("X-User-Id")
	}

	err := h.ingestor.Ingest(r.Context(), hb)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"id":       hb.ID,
			"accepted": true,
		}))
	case errors.Is(err, repository.ErrStoreUnavailable):
		writeJSON(w, http.StatusOK, Fail("service temporarily unavailable"))
	default:
		writeJSON(w, http.StatusOK, Fail(msgHeartbeatNotRegistered))
	}
}

// POST /api/v1/presence/refresh
func (h *PresenceHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		h.logger.Warn("Manual presence refresh failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("refresh failed"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

// GET /api/v1/presence/{userId}
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.query.GetPresence(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(queryMessage(err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// GET /api/v1/presence/{userId}/heartbeats?from=&to=
func (h *PresenceHandler) ListHeartbeats(w http.ResponseWriter, r *http.Request, userID string) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid from"))
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid to"))
		return
	}

	hbs, err := h.query.ListHeartbeats(r.Context(), userID, from, to)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(queryMessage(err)))
		return
	}
	if hbs == nil {
		hbs = []models.HeartbeatRecord{}
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": hbs,
		"count": len(hbs),
	}))
}

// GET /api/v1/thresholds
func (h *PresenceHandler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	t := h.thresholds.Current()
	writeJSON(w, http.StatusOK, Ok(ThresholdsView{
		WarningMinutes:   int(t.Warning / time.Minute),
		DangerMinutes:    int(t.Danger / time.Minute),
		EmergencyMinutes: int(t.Emergency / time.Minute),
	}))
}

// GET /api/v1/security/status
func (h *PresenceHandler) GetSecurityStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.security.Status()))
}

// GET /api/v1/security/logs?user_id=&type=&from=&to=&limit=
func (h *PresenceHandler) ListSecurityLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid from"))
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid to"))
		return
	}

	logs, err := h.query.ListSecurityLogs(r.Context(), repository.SecurityLogFilter{
		UserID: q.Get("user_id"),
		Type:   models.SecurityLogType(q.Get("type")),
		From:   from,
		To:     to,
		Limit:  parseInt(q.Get("limit"), 0),
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(queryMessage(err)))
		return
	}
	if logs == nil {
		logs = []models.SuspiciousActivityEntry{}
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": logs,
		"count": len(logs),
	}))
}

// GET /healthz
func (h *PresenceHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, Result[map[string]string]{
			Code: ResultError, Type: "error", Message: "unhealthy", Result: status,
		})
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

func queryMessage(err error) string {
	switch {
	case errors.Is(err, repository.ErrInvalidQuery):
		return err.Error()
	case errors.Is(err, repository.ErrStoreUnavailable):
		return "service temporarily unavailable"
	default:
		return "query failed"
	}
}
