// Package window 将单条序列切分为定长、不重叠的窗口
//
// 切分规则：
// - 从第一个采样点开始，每 SequenceLength 个采样点一个窗口
// - 末尾不足 SequenceLength 的部分直接丢弃（会丢失每条序列最后一段）
// - 所有时间戳在产出任何窗口之前先解析，任何一个解析失败即整条序列失败
package window

import (
	"errors"
	"fmt"
	"iter"

	"wisefido-sleepstage/internal/models"
)

var (
	// ErrInvalidLength 窗口长度非法
	ErrInvalidLength = errors.New("sequence length must be >= 1")
	// ErrPartialLabels 序列中部分采样点有标注、部分没有
	ErrPartialLabels = errors.New("series is partially labeled")
)

// Windower 窗口切分器
type Windower struct {
	SequenceLength int
}

// NewWindower 创建窗口切分器
func NewWindower(sequenceLength int) (*Windower, error) {
	if sequenceLength < 1 {
		return nil, ErrInvalidLength
	}
	return &Windower{SequenceLength: sequenceLength}, nil
}

// Count 返回序列长度为 n 时的窗口数
func (w *Windower) Count(n int) int {
	return n / w.SequenceLength
}

// Windows 返回序列窗口的惰性迭代器
//
// 时间戳和标注在此处一次性校验，错误立即返回；迭代过程本身不会失败。
func (w *Windower) Windows(series *models.Series) (iter.Seq[models.Window], error) {
	timestamps, labeled, err := w.prepare(series)
	if err != nil {
		return nil, err
	}

	n := w.Count(len(series.Samples))
	length := w.SequenceLength

	return func(yield func(models.Window) bool) {
		for i := 0; i < n; i++ {
			start := i * length
			if !yield(buildWindow(series, i, start, length, timestamps, labeled)) {
				return
			}
		}
	}, nil
}

// Split 一次性切分整条序列（训练时使用）
func (w *Windower) Split(series *models.Series) ([]models.Window, error) {
	seq, err := w.Windows(series)
	if err != nil {
		return nil, err
	}
	windows := make([]models.Window, 0, w.Count(len(series.Samples)))
	for win := range seq {
		windows = append(windows, win)
	}
	return windows, nil
}

// SplitAll 切分多条序列，窗口按序列顺序排列
func (w *Windower) SplitAll(series []*models.Series) ([]models.Window, error) {
	var windows []models.Window
	for _, s := range series {
		ws, err := w.Split(s)
		if err != nil {
			return nil, err
		}
		windows = append(windows, ws...)
	}
	return windows, nil
}

func (w *Windower) prepare(series *models.Series) ([]float64, bool, error) {
	timestamps := make([]float64, len(series.Samples))
	labeledCount := 0
	for i, s := range series.Samples {
		ts, err := ParseTimestamp(s.Timestamp)
		if err != nil {
			return nil, false, fmt.Errorf("series %s step %d: %w", series.SeriesID, s.Step, err)
		}
		timestamps[i] = ts
		if s.Label != nil {
			labeledCount++
		}
	}

	if labeledCount != 0 && labeledCount != len(series.Samples) {
		return nil, false, fmt.Errorf("series %s: %w (%d of %d samples labeled)",
			series.SeriesID, ErrPartialLabels, labeledCount, len(series.Samples))
	}
	return timestamps, labeledCount > 0, nil
}

func buildWindow(series *models.Series, index, start, length int, timestamps []float64, labeled bool) models.Window {
	win := models.Window{
		SeriesID:   series.SeriesID,
		Index:      index,
		Steps:      make([]int64, length),
		Timestamps: make([]float64, length),
		Features:   make([][]float64, length),
	}
	if labeled {
		win.Labels = make([]int, length)
	}

	for t := 0; t < length; t++ {
		s := series.Samples[start+t]
		win.Steps[t] = s.Step
		win.Timestamps[t] = timestamps[start+t]
		win.Features[t] = s.Features()
		if labeled {
			win.Labels[t] = *s.Label
		}
	}
	return win
}
