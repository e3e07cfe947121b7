package heartbeat

import (
	"math"
	"time"
)

type sample struct {
	at    time.Time
	value float64
}

// VibrationFilter 识别来电振动：规则、高强度、短间隔的加速度序列
type VibrationFilter struct {
	buffer []sample

	Window        time.Duration // 保留样本的时间窗口，默认 3s
	MinSamples    int           // 最少样本数，默认 5
	Recent        int           // 参与判断的最近样本数，默认 10
	HighValue     float64       // 高强度阈值，默认 3.0
	HighRatio     float64       // 高强度样本占比阈值，默认 0.8
	MaxStdDev     time.Duration // 间隔标准差上限，默认 100ms
	MaxAvgSpacing time.Duration // 平均间隔上限，默认 400ms
}

// NewVibrationFilter 创建默认参数的振动过滤器
func NewVibrationFilter() *VibrationFilter {
	return &VibrationFilter{
		Window:        3 * time.Second,
		MinSamples:    5,
		Recent:        10,
		HighValue:     3.0,
		HighRatio:     0.8,
		MaxStdDev:     100 * time.Millisecond,
		MaxAvgSpacing: 400 * time.Millisecond,
	}
}

// Add 记录一个加速度样本，返回当前是否处于振动模式
func (f *VibrationFilter) Add(at time.Time, value float64) bool {
	f.buffer = append(f.buffer, sample{at: at, value: value})

	kept := f.buffer[:0]
	for _, s := range f.buffer {
		if at.Sub(s.at) < f.Window {
			kept = append(kept, s)
		}
	}
	f.buffer = kept

	return f.isVibration()
}

func (f *VibrationFilter) isVibration() bool {
	if len(f.buffer) < f.MinSamples {
		return false
	}

	recent := f.buffer
	if len(recent) > f.Recent {
		recent = recent[len(recent)-f.Recent:]
	}

	high := 0
	for _, s := range recent {
		if s.value > f.HighValue {
			high++
		}
	}
	highRatio := float64(high) / float64(len(recent))

	intervals := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		intervals = append(intervals, float64(recent[i].at.Sub(recent[i-1].at).Milliseconds()))
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	avg := sum / float64(len(intervals))

	var variance float64
	for _, v := range intervals {
		variance += (v - avg) * (v - avg)
	}
	stdDev := math.Sqrt(variance / float64(len(intervals)))

	return stdDev < float64(f.MaxStdDev.Milliseconds()) &&
		highRatio > f.HighRatio &&
		avg < float64(f.MaxAvgSpacing.Milliseconds())
}
