// Package events 把窗口解码结果拼回整条序列，并提取入睡/醒来事件
package events

import (
	"sort"

	"wisefido-sleepstage/internal/models"
)

// Reassemble 按序列拼接窗口标签
//
// 序列按首次出现的顺序输出；同一序列的窗口按首个 step 升序拼接。
// 重复的 step 不新增位置，后到的窗口覆盖先前的标签。
func Reassemble(windows []models.DecodedWindow) []models.SeriesLabels {
	var order []string
	grouped := make(map[string][]models.DecodedWindow)
	for _, w := range windows {
		if _, ok := grouped[w.SeriesID]; !ok {
			order = append(order, w.SeriesID)
		}
		grouped[w.SeriesID] = append(grouped[w.SeriesID], w)
	}

	result := make([]models.SeriesLabels, 0, len(order))
	for _, id := range order {
		result = append(result, reassembleSeries(id, grouped[id]))
	}
	return result
}

func reassembleSeries(seriesID string, windows []models.DecodedWindow) models.SeriesLabels {
	sort.SliceStable(windows, func(i, j int) bool {
		return firstStep(windows[i]) < firstStep(windows[j])
	})

	total := 0
	for _, w := range windows {
		total += len(w.Steps)
	}

	out := models.SeriesLabels{
		SeriesID: seriesID,
		Steps:    make([]int64, 0, total),
		Labels:   make([]int, 0, total),
	}
	position := make(map[int64]int, total)
	for _, w := range windows {
		for i, step := range w.Steps {
			if pos, ok := position[step]; ok {
				out.Labels[pos] = w.Labels[i]
				continue
			}
			position[step] = len(out.Steps)
			out.Steps = append(out.Steps, step)
			out.Labels = append(out.Labels, w.Labels[i])
		}
	}
	return out
}

func firstStep(w models.DecodedWindow) int64 {
	if len(w.Steps) == 0 {
		return 0
	}
	return w.Steps[0]
}
