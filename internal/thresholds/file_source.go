package thresholds

import (
	"context"
	"fmt"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/spf13/viper"
)

// FileSource 从 YAML 文件读取阈值
//
//	thresholds:
//	  warning_minutes: 1440
//	  danger_minutes: 2880
//	  emergency_minutes: 4320
type FileSource struct {
	path string
}

// NewFileSource 创建文件阈值来源
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// LoadThresholds 每次调用都重新读取文件，缺失的键取默认值
func (s *FileSource) LoadThresholds(_ context.Context) (models.ThresholdConfig, error) {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")

	def := models.DefaultThresholds()
	v.SetDefault("thresholds.warning_minutes", int(def.Warning.Minutes()))
	v.SetDefault("thresholds.danger_minutes", int(def.Danger.Minutes()))
	v.SetDefault("thresholds.emergency_minutes", int(def.Emergency.Minutes()))

	if err := v.ReadInConfig(); err != nil {
		return models.ThresholdConfig{}, fmt.Errorf("failed to read threshold file %s: %w", s.path, err)
	}

	return models.ThresholdsFromMinutes(
		v.GetInt("thresholds.warning_minutes"),
		v.GetInt("thresholds.danger_minutes"),
		v.GetInt("thresholds.emergency_minutes"),
	), nil
}
