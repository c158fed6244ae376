package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GELU 精确形式：x · Φ(x)
func GELU(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		return 0.5 * v * (1 + math.Erf(v/math.Sqrt2))
	}, x)
	return &y
}

// GELUBackward dx = dy · (Φ(x) + x·φ(x))
func GELUBackward(x, dy *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.Apply(func(i, j int, v float64) float64 {
		cdf := 0.5 * (1 + math.Erf(v/math.Sqrt2))
		pdf := math.Exp(-0.5*v*v) / math.Sqrt(2*math.Pi)
		return dy.At(i, j) * (cdf + v*pdf)
	}, x)
	return &dx
}

// Dropout 训练时按概率 P 置零，并按 1/(1-P) 缩放保留的元素
type Dropout struct {
	P float64
}

// Forward 返回输出和缩放后的掩码（反向时逐元素相乘）
// P == 0 时掩码为 nil，输出即输入
func (d Dropout) Forward(x *mat.Dense, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	if d.P <= 0 {
		return x, nil
	}
	r, c := x.Dims()
	keep := 1 / (1 - d.P)
	mask := mat.NewDense(r, c, nil)
	raw := mask.RawMatrix()
	for i := range raw.Data {
		if rng.Float64() >= d.P {
			raw.Data[i] = keep
		}
	}
	var y mat.Dense
	y.MulElem(x, mask)
	return &y, mask
}

// Backward dx = dy ⊙ mask
func (d Dropout) Backward(mask, dy *mat.Dense) *mat.Dense {
	if mask == nil {
		return dy
	}
	var dx mat.Dense
	dx.MulElem(dy, mask)
	return &dx
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
