package models

// 睡眠状态标签（二分类）
const (
	StateAsleep = 0 // 睡眠
	StateAwake  = 1 // 清醒

	NumStates = 2
)

// FeatureCount 每个采样点的特征数：anglez、enmo
const FeatureCount = 2

// Sample 单个采样点（腕部加速度计）
//
// Timestamp 保持原始文本（如 "2018-08-14T15:30:00-0400"），由 Windower 负责解析；
// 解析失败视为输入校验错误。
type Sample struct {
	Step      int64   `json:"step"`
	Timestamp string  `json:"timestamp"`
	AngleZ    float64 `json:"anglez"`
	ENMO      float64 `json:"enmo"`
	Label     *int    `json:"awake,omitempty"` // nil 表示无标注
}

// Features 返回特征向量 [anglez, enmo]
func (s Sample) Features() []float64 {
	return []float64{s.AngleZ, s.ENMO}
}

// Series 单个受试者的一段记录（按 step 升序）
type Series struct {
	SeriesID string   `json:"series_id"`
	Samples  []Sample `json:"samples"`
}

// Window 定长窗口，模型的输入单元
type Window struct {
	SeriesID   string      `json:"series_id"`
	Index      int         `json:"index"` // 窗口在序列中的序号
	Steps      []int64     `json:"step"`
	Timestamps []float64   `json:"timestamp"` // 秒（epoch）
	Features   [][]float64 `json:"data"`      // T × FeatureCount
	Labels     []int       `json:"label,omitempty"`
}

// Len 窗口长度
func (w Window) Len() int {
	return len(w.Steps)
}

// HasLabels 是否带标注
func (w Window) HasLabels() bool {
	return w.Labels != nil
}

// DecodedWindow 单个窗口的解码结果
type DecodedWindow struct {
	SeriesID string
	Steps    []int64
	Labels   []int
}

// SeriesLabels 重组后的整条序列标签
type SeriesLabels struct {
	SeriesID string
	Steps    []int64
	Labels   []int
}
