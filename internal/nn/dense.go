package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dense 逐位置线性层：y = xW + b
//
// 作用在 (N × in) 的行上，等价于 kernel_size=1 的一维卷积。
type Dense struct {
	W *Param // in × out
	B *Param // 1 × out
}

// NewDense 创建线性层，权重按 U(-1/sqrt(in), 1/sqrt(in)) 初始化
func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		W: NewParam(name+".weight", in, out),
		B: NewParam(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	d.W.InitUniform(rng, bound)
	d.B.InitUniform(rng, bound)
	return d
}

// Params 参数列表
func (d *Dense) Params() []*Param {
	return []*Param{d.W, d.B}
}

// Forward 前向
func (d *Dense) Forward(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Mul(x, d.W.Value)
	addRowVector(&y, d.B.Value.RawRowView(0))
	return &y
}

// Backward 累加参数梯度并返回 dx
func (d *Dense) Backward(x, dy *mat.Dense) *mat.Dense {
	var gw mat.Dense
	gw.Mul(x.T(), dy)
	d.W.Grad.Add(d.W.Grad, &gw)
	accumulateColSums(d.B.Grad.RawRowView(0), dy)

	var dx mat.Dense
	dx.Mul(dy, d.W.Value.T())
	return &dx
}
