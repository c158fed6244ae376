package events

// Smoother 标签序列平滑策略
//
// 实现必须保持长度和对齐不变，且不修改输入切片。
type Smoother interface {
	Smooth(labels []int) []int
}

type run struct {
	label  int
	length int
}

func runs(labels []int) []run {
	var rs []run
	for _, l := range labels {
		if n := len(rs); n > 0 && rs[n-1].label == l {
			rs[n-1].length++
			continue
		}
		rs = append(rs, run{label: l, length: 1})
	}
	return rs
}

func expand(rs []run, size int) []int {
	out := make([]int, 0, size)
	for _, r := range rs {
		for i := 0; i < r.length; i++ {
			out = append(out, r.label)
		}
	}
	return out
}

// OutlierRemover 去除短暂的状态翻转
//
// 两侧都被同一相反状态包围、且长度小于 MinRun 的内部片段会被并入两侧。
// 每次合并最短的片段（并列取最左），直到不存在这样的片段为止；
// 首尾片段从不翻转。每次合并减少两个翻转点，所以输出的翻转点不会多于输入。
type OutlierRemover struct {
	MinRun int
}

// Smooth 实现 Smoother
func (o OutlierRemover) Smooth(labels []int) []int {
	rs := runs(labels)
	for {
		idx := -1
		for i := 1; i < len(rs)-1; i++ {
			if rs[i].length >= o.MinRun || rs[i-1].label != rs[i+1].label {
				continue
			}
			if idx < 0 || rs[i].length < rs[idx].length {
				idx = i
			}
		}
		if idx < 0 {
			break
		}

		merged := run{
			label:  rs[idx-1].label,
			length: rs[idx-1].length + rs[idx].length + rs[idx+1].length,
		}
		rs = append(rs[:idx-1], append([]run{merged}, rs[idx+2:]...)...)
	}
	return expand(rs, len(labels))
}

// LocalBest 邻域多数表决
//
// 每个位置取 [i-Radius, i+Radius] 内出现最多的标签（越界位置按首尾值补齐），
// 票数相同时保持原标签。重复表决直到序列不再变化，因此结果再次平滑不会改变。
type LocalBest struct {
	Radius int
}

// Smooth 实现 Smoother
func (lb LocalBest) Smooth(labels []int) []int {
	cur := append([]int(nil), labels...)
	if lb.Radius < 1 || len(cur) < 2 {
		return cur
	}

	// 二值中值滤波在有限轮内收敛；上限只用于防御非二值输入
	for pass := 0; pass <= len(cur); pass++ {
		next, changed := lb.vote(cur)
		if !changed {
			break
		}
		cur = next
	}
	return cur
}

func (lb LocalBest) vote(labels []int) ([]int, bool) {
	n := len(labels)
	out := make([]int, n)
	changed := false
	counts := make(map[int]int)
	for i := range labels {
		clear(counts)
		for k := i - lb.Radius; k <= i+lb.Radius; k++ {
			j := min(max(k, 0), n-1)
			counts[labels[j]]++
		}

		best := labels[i]
		for label, c := range counts {
			if c > counts[best] || (c == counts[best] && label < best && c > counts[labels[i]]) {
				best = label
			}
		}
		out[i] = best
		if best != labels[i] {
			changed = true
		}
	}
	return out, changed
}
