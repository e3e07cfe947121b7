package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	LogSheet     = "Security Logs"
	SummarySheet = "Summary"
)

// SecurityLogHeader 安全日志导出表头
var SecurityLogHeader = []string{
	"Observed At",
	"Type",
	"User ID",
	"Log ID",
	"Details",
}

var summaryHeader = []string{"Type", "Count", "Users"}

// ExportSecurityLogs 导出安全日志为 Excel（明细 + 按类型汇总）
func ExportSecurityLogs(entries []models.SuspiciousActivityEntry, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()

	index, err := f.NewSheet(LogSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDECEA"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, LogSheet, SecurityLogHeader, headerStyle, []float64{22, 28, 38, 38, 80}); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeHeader(f, SummarySheet, summaryHeader, headerStyle, []float64{28, 10, 10}); err != nil {
		f.Close()
		return nil, err
	}

	// 明细
	type typeStats struct {
		count int
		users map[string]struct{}
	}
	stats := make(map[models.SecurityLogType]*typeStats)

	for i, e := range entries {
		row := i + 2 // 第1行是表头

		details := ""
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to marshal details of %s: %w", e.ID, err)
			}
			details = string(raw)
		}

		values := []interface{}{
			e.ObservedAt.In(loc).Format("2006-01-02 15:04:05"),
			string(e.Type),
			e.UserID,
			e.ID,
			details,
		}
		for col, value := range values {
			if err := setCellValue(f, LogSheet, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}

		st, ok := stats[e.Type]
		if !ok {
			st = &typeStats{users: make(map[string]struct{})}
			stats[e.Type] = st
		}
		st.count++
		st.users[e.UserID] = struct{}{}
	}

	// 汇总（按数量降序）
	types := make([]models.SecurityLogType, 0, len(stats))
	for t := range stats {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if stats[types[i]].count != stats[types[j]].count {
			return stats[types[i]].count > stats[types[j]].count
		}
		return types[i] < types[j]
	})
	for i, t := range types {
		row := i + 2
		for col, value := range []interface{}{string(t), stats[t].count, len(stats[t].users)} {
			if err := setCellValue(f, SummarySheet, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set summary cell at row %d: %w", row, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(LogSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int, widths []float64) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}

		if col < len(widths) {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}
	return nil
}

// setCellValue 设置单元格值
func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
