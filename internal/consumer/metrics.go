package consumer

import (
	"sync"
	"time"
)

// 失败分类
const (
	errorParse          = "parse"
	errorPipeline       = "pipeline_failed"
	errorStore          = "store_failed"
	errorPublish        = "publish_failed"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	MessagesSkipped   int64 // 序列不存在

	// 错误分类统计
	ErrorsParse          int64
	ErrorsSeriesNotFound int64
	ErrorsPipelineFailed int64
	ErrorsStoreFailed    int64
	ErrorsPublishFailed  int64

	EventsEmitted int64

	// 性能指标
	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:    m.MessagesProcessed,
		MessagesSucceeded:    m.MessagesSucceeded,
		MessagesFailed:       m.MessagesFailed,
		MessagesSkipped:      m.MessagesSkipped,
		ErrorsParse:          m.ErrorsParse,
		ErrorsSeriesNotFound: m.ErrorsSeriesNotFound,
		ErrorsPipelineFailed: m.ErrorsPipelineFailed,
		ErrorsStoreFailed:    m.ErrorsStoreFailed,
		ErrorsPublishFailed:  m.ErrorsPublishFailed,
		EventsEmitted:        m.EventsEmitted,
		TotalProcessingTime:  m.TotalProcessingTime,
		LastProcessTime:      m.LastProcessTime,
		StartTime:            m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded(duration time.Duration, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.EventsEmitted += int64(events)
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case errorParse:
		m.ErrorsParse++
	case errorPipeline:
		m.ErrorsPipelineFailed++
	case errorStore:
		m.ErrorsStoreFailed++
	case errorPublish:
		m.ErrorsPublishFailed++
	}
}

// IncrementSkipped 增加跳过计数
func (m *Metrics) IncrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSkipped++
	m.ErrorsSeriesNotFound++
}
