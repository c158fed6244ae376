package events

import (
	"wisefido-sleepstage/internal/models"

	"go.uber.org/zap"
)

// 默认平滑参数（以 5 秒一个 step 计：1 分钟以内的翻转视为噪声）
const (
	DefaultOutlierMinRun   = 12
	DefaultLocalBestRadius = 6
)

// Extractor 事件提取器：平滑 → 状态切换扫描
type Extractor struct {
	smoothers []Smoother
	logger    *zap.Logger
}

// NewExtractor 创建事件提取器，按给定顺序执行平滑策略
func NewExtractor(logger *zap.Logger, smoothers ...Smoother) *Extractor {
	return &Extractor{
		smoothers: smoothers,
		logger:    logger,
	}
}

// NewDefaultExtractor 默认策略：先去除短暂翻转，再做邻域表决
func NewDefaultExtractor(logger *zap.Logger) *Extractor {
	return NewExtractor(logger,
		OutlierRemover{MinRun: DefaultOutlierMinRun},
		LocalBest{Radius: DefaultLocalBestRadius},
	)
}

// Clean 依次执行平滑策略
func (e *Extractor) Clean(labels []int) []int {
	cleaned := labels
	for _, s := range e.smoothers {
		cleaned = s.Smooth(cleaned)
	}
	return cleaned
}

// Extract 对每条序列平滑后扫描状态切换，row_id 在所有序列间连续编号
func (e *Extractor) Extract(series []models.SeriesLabels) []models.Event {
	var events []models.Event
	for _, s := range series {
		found := Scan(s.SeriesID, s.Steps, e.Clean(s.Labels))
		for _, ev := range found {
			ev.RowID = len(events)
			events = append(events, ev)
		}
		e.logger.Debug("Events extracted",
			zap.String("series_id", s.SeriesID),
			zap.Int("samples", len(s.Labels)),
			zap.Int("events", len(found)),
		)
	}
	return events
}

// Scan 扫描单条已清洗序列的状态切换
//
// 首个采样点只确定初始状态；之后每次状态变化在新状态开始的 step 产生一个事件。
// 返回事件的 RowID 从 0 开始。少于 2 个采样点时没有事件。
func Scan(seriesID string, steps []int64, labels []int) []models.Event {
	if len(labels) < 2 {
		return nil
	}

	var events []models.Event
	state := labels[0]
	for i := 1; i < len(labels); i++ {
		if labels[i] == state {
			continue
		}
		state = labels[i]
		events = append(events, models.Event{
			RowID:    len(events),
			SeriesID: seriesID,
			Step:     steps[i],
			Event:    models.EventForState(state),
			Score:    models.DefaultEventScore,
		})
	}
	return events
}
