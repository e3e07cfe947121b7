package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/config"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newMemoryService(t *testing.T) *PresenceService {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("THRESHOLD_SOURCE", "default")
	t.Setenv("NOTIFIER_BACKENDS", "push")

	cfg, err := config.Load()
	require.NoError(t, err)

	s, err := NewPresenceService(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestPresenceService_MemoryBackendEndToEnd(t *testing.T) {
	s := newMemoryService(t)
	h := s.Handler()

	body := []byte(fmt.Sprintf(`{"owner_id":"user-1","timestamp":%d,"motion_count":2,"source_sensor":"touch"}`, time.Now().UnixMilli()))
	env := do(t, h, http.MethodPost, "/api/v1/heartbeats", body)
	assert.Equal(t, 2000, env.Code, env.Message)

	env = do(t, h, http.MethodGet, "/api/v1/presence/user-1", nil)
	require.Equal(t, 2000, env.Code, env.Message)
	var view struct {
		Level string `json:"level"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &view))
	assert.Equal(t, "normal", view.Level)

	env = do(t, h, http.MethodGet, "/api/v1/presence/nobody", nil)
	require.Equal(t, 2000, env.Code)
	require.NoError(t, json.Unmarshal(env.Result, &view))
	assert.Equal(t, "unknown", view.Level)

	env = do(t, h, http.MethodPost, "/api/v1/presence/refresh", nil)
	assert.Equal(t, 2000, env.Code, env.Message)

	env = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, 2000, env.Code)
}

func TestPresenceService_RejectedHeartbeatIsGeneric(t *testing.T) {
	s := newMemoryService(t)

	body := []byte(`{"owner_id":"user-1","timestamp":1000,"motion_count":2,"source_sensor":"touch"}`)
	env := do(t, s.Handler(), http.MethodPost, "/api/v1/heartbeats", body)
	assert.Equal(t, -1, env.Code)
	assert.Equal(t, "heartbeat not registered", env.Message)
}

func TestPresenceService_MetricsEndpoint(t *testing.T) {
	s := newMemoryService(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lonelycare_threshold_seconds")
}

func TestNewPresenceService_MissingThresholdFileKeepsDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("THRESHOLD_SOURCE", "file")
	t.Setenv("THRESHOLD_FILE", "/nonexistent/thresholds.yaml")

	cfg, err := config.Load()
	require.NoError(t, err)

	// 阈值文件缺失不阻止启动，保留默认阈值
	s, err := NewPresenceService(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	assert.Equal(t, 1440*time.Minute, s.thresholds.Current().Warning)
}

// gateway 记录推送与紧急上报请求
type gateway struct {
	mu       sync.Mutex
	pushes   []map[string]interface{}
	reports  []map[string]interface{}
	endpoint *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	g := &gateway{}
	g.endpoint = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		g.mu.Lock()
		switch r.URL.Path {
		case "/sendNotification":
			g.pushes = append(g.pushes, body)
		case "/reportEmergency":
			g.reports = append(g.reports, body)
		}
		g.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(g.endpoint.Close)
	return g
}

func TestPresenceService_EmergencyEscalationFromFriendsFile(t *testing.T) {
	g := newGateway(t)

	friends := filepath.Join(t.TempDir(), "friends.yaml")
	require.NoError(t, os.WriteFile(friends, []byte(`
friends:
  - observer_id: observer-1
    friend_id: elder-1
    friend_name: Kim
    phone: 010-1234-5678
    address: Seoul
`), 0o600))

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("THRESHOLD_SOURCE", "default")
	t.Setenv("NOTIFIER_BACKENDS", "push")
	t.Setenv("PUSH_BASE_URL", g.endpoint.URL)
	t.Setenv("EMERGENCY_BASE_URL", g.endpoint.URL)
	t.Setenv("FRIENDS_FILE", friends)

	cfg, err := config.Load()
	require.NoError(t, err)
	s, err := NewPresenceService(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.store.AppendHeartbeat(context.Background(),
		models.NewHeartbeatRecord("elder-1", time.Now().Add(-73*time.Hour), 1, models.SourceTouch, "")))

	env := do(t, s.Handler(), http.MethodPost, "/api/v1/presence/refresh", nil)
	require.Equal(t, 2000, env.Code, env.Message)

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.pushes, 1)
	assert.Equal(t, "observer-1", g.pushes[0]["userId"])
	assert.Equal(t, "emergency", g.pushes[0]["alertLevel"])
	require.Len(t, g.reports, 1)
	assert.Equal(t, "elder-1", g.reports[0]["userId"])
	assert.Equal(t, "010-1234-5678", g.reports[0]["phone"])

	mem, ok := s.store.(*repository.MemoryPresenceStore)
	require.True(t, ok)
	logs := mem.NotificationLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.PriorityUrgent, logs[0].Priority)
}

func TestNewPresenceService_InvalidFriendsFile(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("THRESHOLD_SOURCE", "default")
	t.Setenv("FRIENDS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = NewPresenceService(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "friends file")
}
