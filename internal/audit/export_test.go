package audit

import (
	"bytes"
	"testing"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportSecurityLogs(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	entries := []models.SuspiciousActivityEntry{
		models.NewSuspiciousActivityEntry(models.LogTimestampDrift, "user-1", map[string]interface{}{"drift_ms": 45000}, at),
		models.NewSuspiciousActivityEntry(models.LogRateLimitExceeded, "user-1", nil, at.Add(time.Minute)),
		models.NewSuspiciousActivityEntry(models.LogRateLimitExceeded, "user-2", nil, at.Add(2*time.Minute)),
	}

	data, err := ExportSecurityLogs(entries, time.UTC)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{LogSheet, SummarySheet}, f.GetSheetList())

	rows, err := f.GetRows(LogSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, SecurityLogHeader, rows[0])
	assert.Equal(t, "2026-03-01 09:30:00", rows[1][0])
	assert.Equal(t, "TIMESTAMP_DRIFT", rows[1][1])
	assert.Equal(t, "user-1", rows[1][2])
	assert.Equal(t, entries[0].ID, rows[1][3])
	assert.Equal(t, `{"drift_ms":45000}`, rows[1][4])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"RATE_LIMIT_EXCEEDED", "2", "2"}, summary[1])
	assert.Equal(t, []string{"TIMESTAMP_DRIFT", "1", "1"}, summary[2])
}

func TestExportSecurityLogs_EmptyHasHeaders(t *testing.T) {
	data, err := ExportSecurityLogs(nil, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(LogSheet)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, SecurityLogHeader, rows[0])
}
