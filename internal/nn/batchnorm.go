package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// BatchNorm 按通道（列）归一化，统计量取自所有行（batch × time）
type BatchNorm struct {
	Gamma *Param // 1 × C
	Beta  *Param // 1 × C

	RunningMean []float64
	RunningVar  []float64

	Momentum float64
	Eps      float64
}

// BatchNormCache 前向缓存
type BatchNormCache struct {
	xhat   *mat.Dense
	invStd []float64
}

// NewBatchNorm 创建归一化层（gamma=1, beta=0, running var=1）
func NewBatchNorm(name string, channels int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:       NewParam(name+".weight", 1, channels),
		Beta:        NewParam(name+".bias", 1, channels),
		RunningMean: make([]float64, channels),
		RunningVar:  make([]float64, channels),
		Momentum:    0.1,
		Eps:         1e-5,
	}
	for j := 0; j < channels; j++ {
		bn.Gamma.Value.Set(0, j, 1)
		bn.RunningVar[j] = 1
	}
	return bn
}

// Params 参数列表
func (bn *BatchNorm) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta}
}

// ForwardTrain 使用当前 batch 统计量归一化，并更新 running 统计量
func (bn *BatchNorm) ForwardTrain(x *mat.Dense) (*mat.Dense, *BatchNormCache) {
	n, c := x.Dims()
	mean := make([]float64, c)
	variance := make([]float64, c)

	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			mean[j] += row[j]
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			d := row[j] - mean[j]
			variance[j] += d * d
		}
	}
	for j := range variance {
		variance[j] /= float64(n)
	}

	cache := &BatchNormCache{
		xhat:   mat.NewDense(n, c, nil),
		invStd: make([]float64, c),
	}
	for j := 0; j < c; j++ {
		cache.invStd[j] = 1 / math.Sqrt(variance[j]+bn.Eps)
	}

	gamma := bn.Gamma.Value.RawRowView(0)
	beta := bn.Beta.Value.RawRowView(0)
	y := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		in := x.RawRowView(i)
		xh := cache.xhat.RawRowView(i)
		out := y.RawRowView(i)
		for j := 0; j < c; j++ {
			xh[j] = (in[j] - mean[j]) * cache.invStd[j]
			out[j] = gamma[j]*xh[j] + beta[j]
		}
	}

	// running var 使用无偏估计
	unbias := 1.0
	if n > 1 {
		unbias = float64(n) / float64(n-1)
	}
	for j := 0; j < c; j++ {
		bn.RunningMean[j] = (1-bn.Momentum)*bn.RunningMean[j] + bn.Momentum*mean[j]
		bn.RunningVar[j] = (1-bn.Momentum)*bn.RunningVar[j] + bn.Momentum*variance[j]*unbias
	}

	return y, cache
}

// ForwardEval 使用 running 统计量归一化（只读）
func (bn *BatchNorm) ForwardEval(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	gamma := bn.Gamma.Value.RawRowView(0)
	beta := bn.Beta.Value.RawRowView(0)

	scale := make([]float64, c)
	for j := 0; j < c; j++ {
		scale[j] = gamma[j] / math.Sqrt(bn.RunningVar[j]+bn.Eps)
	}

	y := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		in := x.RawRowView(i)
		out := y.RawRowView(i)
		for j := 0; j < c; j++ {
			out[j] = (in[j]-bn.RunningMean[j])*scale[j] + beta[j]
		}
	}
	return y
}

// Backward 累加 gamma/beta 梯度并返回 dx
func (bn *BatchNorm) Backward(cache *BatchNormCache, dy *mat.Dense) *mat.Dense {
	n, c := dy.Dims()
	gamma := bn.Gamma.Value.RawRowView(0)
	dGamma := bn.Gamma.Grad.RawRowView(0)
	dBeta := bn.Beta.Grad.RawRowView(0)

	sumDxhat := make([]float64, c)
	sumDxhatXhat := make([]float64, c)
	for i := 0; i < n; i++ {
		g := dy.RawRowView(i)
		xh := cache.xhat.RawRowView(i)
		for j := 0; j < c; j++ {
			dGamma[j] += g[j] * xh[j]
			dBeta[j] += g[j]
			dxh := g[j] * gamma[j]
			sumDxhat[j] += dxh
			sumDxhatXhat[j] += dxh * xh[j]
		}
	}

	dx := mat.NewDense(n, c, nil)
	fn := float64(n)
	for i := 0; i < n; i++ {
		g := dy.RawRowView(i)
		xh := cache.xhat.RawRowView(i)
		out := dx.RawRowView(i)
		for j := 0; j < c; j++ {
			dxh := g[j] * gamma[j]
			out[j] = cache.invStd[j] / fn * (fn*dxh - sumDxhat[j] - xh[j]*sumDxhatXhat[j])
		}
	}
	return dx
}
