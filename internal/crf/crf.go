// Package crf 线性链条件随机场（结构化解码层）
//
// 与特征提取网络无关，只依赖发射分数（T × C）和转移分数：
//   - Loss：真实标签序列的负对数似然（前向算法，log 空间）
//   - Decode：Viterbi 全局最优路径，分数相同时取较小的类别下标
//   - Gradients：前向-后向边缘概率给出的梯度（训练用）
package crf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidInput 输入形状或取值非法
	ErrInvalidInput = errors.New("crf: invalid input")
	// ErrNumeric 配分函数出现非有限值
	ErrNumeric = errors.New("crf: non-finite log partition")
)

// Transitions CRF 转移参数
//
// Matrix[i][j] 为第 t 步标签 i 转移到第 t+1 步标签 j 的分数；
// Start/End 为序列首/尾标签的附加分数。
type Transitions struct {
	Start  []float64   `json:"start"`
	End    []float64   `json:"end"`
	Matrix [][]float64 `json:"matrix"`
}

// NewTransitions 创建全零转移参数
func NewTransitions(numClasses int) (*Transitions, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidInput, numClasses)
	}
	tr := &Transitions{
		Start:  make([]float64, numClasses),
		End:    make([]float64, numClasses),
		Matrix: make([][]float64, numClasses),
	}
	for i := range tr.Matrix {
		tr.Matrix[i] = make([]float64, numClasses)
	}
	return tr, nil
}

// NumClasses 类别数
func (tr *Transitions) NumClasses() int {
	return len(tr.Start)
}

func (tr *Transitions) validate() error {
	c := len(tr.Start)
	if c < 2 {
		return fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidInput, c)
	}
	if len(tr.End) != c || len(tr.Matrix) != c {
		return fmt.Errorf("%w: transition shapes disagree", ErrInvalidInput)
	}
	for _, row := range tr.Matrix {
		if len(row) != c {
			return fmt.Errorf("%w: transition matrix must be %dx%d", ErrInvalidInput, c, c)
		}
	}
	return nil
}

func validateEmissions(emissions [][]float64, c int) error {
	if len(emissions) == 0 {
		return fmt.Errorf("%w: empty window", ErrInvalidInput)
	}
	for t, row := range emissions {
		if len(row) != c {
			return fmt.Errorf("%w: emissions[%d] has %d scores, want %d", ErrInvalidInput, t, len(row), c)
		}
	}
	return nil
}

func validateLabels(labels []int, length, c int) error {
	if len(labels) != length {
		return fmt.Errorf("%w: %d labels for %d steps", ErrInvalidInput, len(labels), length)
	}
	for t, y := range labels {
		if y < 0 || y >= c {
			return fmt.Errorf("%w: label %d at step %d out of range", ErrInvalidInput, y, t)
		}
	}
	return nil
}

func (tr *Transitions) check(emissions [][]float64, labels []int) error {
	if err := tr.validate(); err != nil {
		return err
	}
	if err := validateEmissions(emissions, tr.NumClasses()); err != nil {
		return err
	}
	if labels != nil {
		return validateLabels(labels, len(emissions), tr.NumClasses())
	}
	return nil
}

// PathScore 指定标签序列的非归一化分数
func PathScore(emissions [][]float64, tr *Transitions, labels []int) (float64, error) {
	if err := tr.check(emissions, labels); err != nil {
		return 0, err
	}
	return pathScore(emissions, tr, labels), nil
}

// 累加顺序与 forward 一致，保证 logZ >= score 在浮点下同样成立
func pathScore(emissions [][]float64, tr *Transitions, labels []int) float64 {
	score := tr.Start[labels[0]] + emissions[0][labels[0]]
	for t := 1; t < len(labels); t++ {
		score = score + tr.Matrix[labels[t-1]][labels[t]]
		score = score + emissions[t][labels[t]]
	}
	return score + tr.End[labels[len(labels)-1]]
}

// forward 返回 alpha（T × C，含当前步发射分数）
func forward(emissions [][]float64, tr *Transitions) [][]float64 {
	c := tr.NumClasses()
	alpha := make([][]float64, len(emissions))
	alpha[0] = make([]float64, c)
	for j := 0; j < c; j++ {
		alpha[0][j] = tr.Start[j] + emissions[0][j]
	}

	buf := make([]float64, c)
	for t := 1; t < len(emissions); t++ {
		alpha[t] = make([]float64, c)
		for j := 0; j < c; j++ {
			for i := 0; i < c; i++ {
				buf[i] = alpha[t-1][i] + tr.Matrix[i][j]
			}
			alpha[t][j] = floats.LogSumExp(buf) + emissions[t][j]
		}
	}
	return alpha
}

// backward 返回 beta（T × C，不含当前步发射分数，含 End）
func backward(emissions [][]float64, tr *Transitions) [][]float64 {
	c := tr.NumClasses()
	n := len(emissions)
	beta := make([][]float64, n)
	beta[n-1] = make([]float64, c)
	copy(beta[n-1], tr.End)

	buf := make([]float64, c)
	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, c)
		for i := 0; i < c; i++ {
			for j := 0; j < c; j++ {
				buf[j] = tr.Matrix[i][j] + emissions[t+1][j] + beta[t+1][j]
			}
			beta[t][i] = floats.LogSumExp(buf)
		}
	}
	return beta
}

func logPartition(alpha [][]float64, tr *Transitions) (float64, error) {
	last := alpha[len(alpha)-1]
	buf := make([]float64, len(last))
	for j := range last {
		buf[j] = last[j] + tr.End[j]
	}
	logZ := floats.LogSumExp(buf)
	if math.IsNaN(logZ) || math.IsInf(logZ, 0) {
		return 0, ErrNumeric
	}
	return logZ, nil
}

// LogPartition 所有长度为 T 的标签序列的 log 配分函数
func LogPartition(emissions [][]float64, tr *Transitions) (float64, error) {
	if err := tr.check(emissions, nil); err != nil {
		return 0, err
	}
	return logPartition(forward(emissions, tr), tr)
}

// Loss 负对数似然：logZ - score(labels)，恒 >= 0
func Loss(emissions [][]float64, tr *Transitions, labels []int) (float64, error) {
	if err := tr.check(emissions, labels); err != nil {
		return 0, err
	}
	logZ, err := logPartition(forward(emissions, tr), tr)
	if err != nil {
		return 0, err
	}
	return logZ - pathScore(emissions, tr, labels), nil
}

// Decode Viterbi 解码，返回每一步的标签
func Decode(emissions [][]float64, tr *Transitions) ([]int, error) {
	if err := tr.check(emissions, nil); err != nil {
		return nil, err
	}

	c := tr.NumClasses()
	n := len(emissions)
	score := make([]float64, c)
	next := make([]float64, c)
	history := make([][]int, n)

	for j := 0; j < c; j++ {
		score[j] = tr.Start[j] + emissions[0][j]
	}

	for t := 1; t < n; t++ {
		history[t] = make([]int, c)
		for j := 0; j < c; j++ {
			best, arg := score[0]+tr.Matrix[0][j], 0
			for i := 1; i < c; i++ {
				// 严格大于：平分时保留较小下标
				if v := score[i] + tr.Matrix[i][j]; v > best {
					best, arg = v, i
				}
			}
			next[j] = best + emissions[t][j]
			history[t][j] = arg
		}
		score, next = next, score
	}

	best, arg := score[0]+tr.End[0], 0
	for j := 1; j < c; j++ {
		if v := score[j] + tr.End[j]; v > best {
			best, arg = v, j
		}
	}
	if math.IsNaN(best) || math.IsInf(best, 0) {
		return nil, ErrNumeric
	}

	path := make([]int, n)
	path[n-1] = arg
	for t := n - 1; t > 0; t-- {
		path[t-1] = history[t][path[t]]
	}
	return path, nil
}

// Gradient 负对数似然及其对发射分数、转移参数的梯度
type Gradient struct {
	Loss      float64
	Emissions [][]float64 // T × C
	Start     []float64
	End       []float64
	Matrix    [][]float64
}

// Gradients 计算损失和梯度（前向-后向）
//
// d/d emission[t][j] = P(y_t = j) - 1[labels[t] = j]
// d/d matrix[i][j]   = Σ_t P(y_{t-1} = i, y_t = j) - count(i→j)
func Gradients(emissions [][]float64, tr *Transitions, labels []int) (*Gradient, error) {
	if err := tr.check(emissions, labels); err != nil {
		return nil, err
	}

	alpha := forward(emissions, tr)
	logZ, err := logPartition(alpha, tr)
	if err != nil {
		return nil, err
	}
	beta := backward(emissions, tr)

	c := tr.NumClasses()
	n := len(emissions)
	g := &Gradient{
		Loss:      logZ - pathScore(emissions, tr, labels),
		Emissions: make([][]float64, n),
		Start:     make([]float64, c),
		End:       make([]float64, c),
		Matrix:    make([][]float64, c),
	}
	for i := range g.Matrix {
		g.Matrix[i] = make([]float64, c)
	}

	for t := 0; t < n; t++ {
		g.Emissions[t] = make([]float64, c)
		for j := 0; j < c; j++ {
			g.Emissions[t][j] = math.Exp(alpha[t][j] + beta[t][j] - logZ)
		}
		g.Emissions[t][labels[t]] -= 1
	}

	copy(g.Start, g.Emissions[0])
	copy(g.End, g.Emissions[n-1])

	for t := 1; t < n; t++ {
		for i := 0; i < c; i++ {
			for j := 0; j < c; j++ {
				g.Matrix[i][j] += math.Exp(alpha[t-1][i] + tr.Matrix[i][j] + emissions[t][j] + beta[t][j] - logZ)
			}
		}
		g.Matrix[labels[t-1]][labels[t]] -= 1
	}

	return g, nil
}
