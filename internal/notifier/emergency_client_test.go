package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleReport() models.EmergencyReport {
	return models.EmergencyReport{
		ReportID:            "report-1",
		PersonID:            "elder-1",
		Name:                "Kim",
		Phone:               "010-1234-5678",
		Address:             "Seoul",
		HoursSinceHeartbeat: 73,
		ReportedAt:          time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestEmergencyClient_ReportEmergency(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reportEmergency", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"reportId":"119-42"}`))
	}))
	defer server.Close()

	client := NewEmergencyClient(pushConfig(server.URL, 0), zap.NewNop())
	require.NoError(t, client.ReportEmergency(context.Background(), sampleReport()))

	assert.Equal(t, "elder-1", got["userId"])
	assert.Equal(t, "Kim", got["name"])
	assert.Equal(t, "010-1234-5678", got["phone"])
	assert.Equal(t, "Seoul", got["address"])
	assert.Equal(t, float64(73), got["hoursSinceHeartbeat"])
}

func TestEmergencyClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"gateway error", http.StatusBadRequest, `{"success":false,"error":"missing address"}`, "missing address"},
		{"rejected", http.StatusOK, `{"success":false,"error":"auto report disabled"}`, "auto report disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewEmergencyClient(pushConfig(server.URL, 0), zap.NewNop())
			err := client.ReportEmergency(context.Background(), sampleReport())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEmergencyClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"success":false,"error":"upstream down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := NewEmergencyClient(pushConfig(server.URL, 1), zap.NewNop())
	require.NoError(t, client.ReportEmergency(context.Background(), sampleReport()))
	assert.Equal(t, int32(2), calls.Load())
}
