package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/antispoof"
	"github.com/consil800/lonely-care-sub004/internal/evaluator"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIngestor struct {
	got []models.HeartbeatRecord
	err error
}

func (f *fakeIngestor) Ingest(ctx context.Context, hb models.HeartbeatRecord) error {
	f.got = append(f.got, hb)
	return f.err
}

type fakeQuery struct {
	view   *models.PresenceView
	hbs    []models.HeartbeatRecord
	logs   []models.SuspiciousActivityEntry
	filter repository.SecurityLogFilter
	from   time.Time
	to     time.Time
	err    error
}

func (f *fakeQuery) GetPresence(ctx context.Context, userID string) (*models.PresenceView, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := *f.view
	v.UserID = userID
	return &v, nil
}

func (f *fakeQuery) ListHeartbeats(ctx context.Context, userID string, from, to time.Time) ([]models.HeartbeatRecord, error) {
	f.from, f.to = from, to
	return f.hbs, f.err
}

func (f *fakeQuery) ListSecurityLogs(ctx context.Context, filter repository.SecurityLogFilter) ([]models.SuspiciousActivityEntry, error) {
	f.filter = filter
	return f.logs, f.err
}

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) RunOnce(ctx context.Context) (evaluator.TickReport, error) {
	f.calls++
	return evaluator.TickReport{People: 2, Evaluated: 2}, f.err
}

type fixedThresholds struct{}

func (fixedThresholds) Current() models.ThresholdConfig { return models.DefaultThresholds() }

type fakeSecurity struct{}

func (fakeSecurity) Status() antispoof.Status {
	return antispoof.Status{SuspiciousTotal: 3, MaxRequestsPerWindow: 10, Window: "1m0s", MaxDrift: "30s"}
}

func setupRouter() (*Router, *PresenceHandler, *fakeIngestor, *fakeQuery, *fakeRunner) {
	ing := &fakeIngestor{}
	q := &fakeQuery{view: &models.PresenceView{Level: models.AlertLevelWarning, LastComputedLevel: models.AlertLevelNormal}}
	runner := &fakeRunner{}
	h := NewPresenceHandler(ing, q, runner, fixedThresholds{}, fakeSecurity{}, zap.NewNop())
	r := NewRouter(zap.NewNop())
	r.RegisterPresenceRoutes(h)
	return r, h, ing, q, runner
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostHeartbeat_Accepted(t *testing.T) {
	r, _, ing, _, _ := setupRouter()

	w := serve(r, http.MethodPost, "/api/v1/heartbeats", `{"owner_id":"user-1","timestamp":"2026-03-01T09:00:00Z","motion_count":1,"source_sensor":"touch"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":2000`)
	require.Len(t, ing.got, 1)
	assert.Equal(t, "user-1", ing.got[0].OwnerID)
	assert.NotEmpty(t, ing.got[0].ID)
	assert.Contains(t, w.Body.String(), ing.got[0].ID)
}

func TestPostHeartbeat_OwnerFromHeader(t *testing.T) {
	r, _, ing, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/heartbeats", strings.NewReader(`{"timestamp":1772355600000,"source_sensor":"timer"}`))
	req.Header.Set("X-User-Id", "user-9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Len(t, ing.got, 1)
	assert.Equal(t, "user-9", ing.got[0].OwnerID)
}

func TestPostHeartbeat_IntegrityFailureIsGeneric(t *testing.T) {
	for _, sentinel := range []error{antispoof.ErrTimestampDrift, antispoof.ErrRateLimitExceeded, antispoof.ErrValidation} {
		r, _, ing, _, _ := setupRouter()
		ing.err = fmt.Errorf("%w: detail that must not leak", sentinel)

		w := serve(r, http.MethodPost, "/api/v1/heartbeats", `{"owner_id":"user-1","source_sensor":"touch"}`)

		body := w.Body.String()
		assert.Contains(t, body, `"code":-1`)
		assert.Contains(t, body, msgHeartbeatNotRegistered)
		assert.NotContains(t, body, "detail that must not leak")
	}
}

func TestPostHeartbeat_StoreUnavailable(t *testing.T) {
	r, _, ing, _, _ := setupRouter()
	ing.err = fmt.Errorf("failed to save heartbeat: %w", repository.ErrStoreUnavailable)

	w := serve(r, http.MethodPost, "/api/v1/heartbeats", `{"owner_id":"user-1"}`)
	assert.Contains(t, w.Body.String(), "service temporarily unavailable")
}

func TestPostHeartbeat_InvalidBodyAndMethod(t *testing.T) {
	r, _, ing, _, _ := setupRouter()

	w := serve(r, http.MethodPost, "/api/v1/heartbeats", `{not json`)
	assert.Contains(t, w.Body.String(), "invalid body")
	assert.Empty(t, ing.got)

	w = serve(r, http.MethodGet, "/api/v1/heartbeats", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGetPresence(t *testing.T) {
	r, _, _, q, _ := setupRouter()

	w := serve(r, http.MethodGet, "/api/v1/presence/user-1", "")
	body := w.Body.String()
	assert.Contains(t, body, `"code":2000`)
	assert.Contains(t, body, `"user_id":"user-1"`)
	assert.Contains(t, body, `"level":"warning"`)

	q.err = fmt.Errorf("read: %w", repository.ErrStoreUnavailable)
	w = serve(r, http.MethodGet, "/api/v1/presence/user-1", "")
	assert.Contains(t, w.Body.String(), "service temporarily unavailable")

	w = serve(r, http.MethodGet, "/api/v1/presence/user-1/other", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListHeartbeats(t *testing.T) {
	r, _, _, q, _ := setupRouter()

	w := serve(r, http.MethodGet, "/api/v1/presence/user-1/heartbeats?from=2026-03-01T00:00:00Z&to=1772355600000", "")
	body := w.Body.String()
	assert.Contains(t, body, `"code":2000`)
	assert.Contains(t, body, `"items":[]`)
	assert.True(t, q.from.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, q.to.Equal(time.UnixMilli(1772355600000)))

	w = serve(r, http.MethodGet, "/api/v1/presence/user-1/heartbeats?from=yesterday", "")
	assert.Contains(t, w.Body.String(), "invalid from")

	q.err = fmt.Errorf("%w: from must be before to", repository.ErrInvalidQuery)
	w = serve(r, http.MethodGet, "/api/v1/presence/user-1/heartbeats", "")
	assert.Contains(t, w.Body.String(), "from must be before to")
}

func TestRefresh(t *testing.T) {
	r, _, _, _, runner := setupRouter()

	w := serve(r, http.MethodPost, "/api/v1/presence/refresh", "")
	assert.Contains(t, w.Body.String(), `"people":2`)
	assert.Equal(t, 1, runner.calls)

	runner.err = errors.New("directory unavailable")
	w = serve(r, http.MethodPost, "/api/v1/presence/refresh", "")
	assert.Contains(t, w.Body.String(), "refresh failed")
}

func TestGetThresholdsAndSecurityStatus(t *testing.T) {
	r, _, _, _, _ := setupRouter()

	w := serve(r, http.MethodGet, "/api/v1/thresholds", "")
	body := w.Body.String()
	assert.Contains(t, body, `"warning_minutes":1440`)
	assert.Contains(t, body, `"danger_minutes":2880`)
	assert.Contains(t, body, `"emergency_minutes":4320`)

	w = serve(r, http.MethodGet, "/api/v1/security/status", "")
	assert.Contains(t, w.Body.String(), `"suspicious_total":3`)
}

func TestListSecurityLogs(t *testing.T) {
	r, _, _, q, _ := setupRouter()
	q.logs = []models.SuspiciousActivityEntry{
		models.NewSuspiciousActivityEntry(models.LogOwnerMismatch, "user-1", nil, time.Now()),
	}

	w := serve(r, http.MethodGet, "/api/v1/security/logs?user_id=user-1&type=OWNER_MISMATCH&limit=5", "")
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Equal(t, "user-1", q.filter.UserID)
	assert.Equal(t, models.LogOwnerMismatch, q.filter.Type)
	assert.Equal(t, 5, q.filter.Limit)
}

func TestHealth(t *testing.T) {
	r, h, _, _, _ := setupRouter()
	h.AddHealthCheck("postgres", func(ctx context.Context) error { return nil })

	w := serve(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	h.AddHealthCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	w = serve(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connection refused"`)
}
