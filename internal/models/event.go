package models

// 事件类型
const (
	EventOnset  = "onset"  // 入睡
	EventWakeup = "wakeup" // 醒来
)

// DefaultEventScore 事件置信度（固定值，未做校准）
const DefaultEventScore = 1.0

// Event 状态切换事件，事件表的一行
type Event struct {
	RowID    int     `json:"row_id"`
	SeriesID string  `json:"series_id"`
	Step     int64   `json:"step"`
	Event    string  `json:"event"`
	Score    float64 `json:"score"`
}

// EventForState 返回进入 state 时对应的事件类型
func EventForState(state int) string {
	if state == StateAwake {
		return EventWakeup
	}
	return EventOnset
}
