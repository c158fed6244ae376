// Package nn 提供序列标注模型使用的网络层（基于 gonum/mat）
//
// 所有层都把前向缓存显式返回给调用方，层本身不保存中间结果：
// 推理时多个 goroutine 可以共享同一组参数。
package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param 可训练参数及其梯度
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam 创建全零参数
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad 梯度清零
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// InitUniform U(-bound, bound) 初始化
func (p *Param) InitUniform(rng *rand.Rand, bound float64) {
	raw := p.Value.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = (rng.Float64()*2 - 1) * bound
		}
	}
}

// ZeroGrads 批量清零
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// GradNorm 所有参数梯度的 L2 范数
func GradNorm(params []*Param) float64 {
	var sum float64
	for _, p := range params {
		n := mat.Norm(p.Grad, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// addRowVector 每一行加上同一个行向量
func addRowVector(m *mat.Dense, v []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += v[j]
		}
	}
}

// accumulateColSums 把 m 的列和累加到 dst
func accumulateColSums(dst []float64, m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			dst[j] += row[j]
		}
	}
}
