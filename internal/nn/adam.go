package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam 优化器
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	step int
	m    map[*Param]*mat.Dense
	v    map[*Param]*mat.Dense
}

// NewAdam 创建 Adam 优化器（beta1=0.9, beta2=0.999, eps=1e-8）
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		m:       make(map[*Param]*mat.Dense),
		v:       make(map[*Param]*mat.Dense),
	}
}

// Steps 已执行的更新次数
func (a *Adam) Steps() int {
	return a.step
}

// Step 用当前梯度更新参数
func (a *Adam) Step(params []*Param) {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			r, c := p.Value.Dims()
			m = mat.NewDense(r, c, nil)
			a.m[p] = m
			a.v[p] = mat.NewDense(r, c, nil)
		}
		v := a.v[p]

		value := p.Value.RawMatrix()
		grad := p.Grad.RawMatrix()
		mRaw := m.RawMatrix()
		vRaw := v.RawMatrix()
		for i := 0; i < value.Rows; i++ {
			for j := 0; j < value.Cols; j++ {
				g := grad.Data[i*grad.Stride+j]
				mi := i*mRaw.Stride + j
				mRaw.Data[mi] = a.Beta1*mRaw.Data[mi] + (1-a.Beta1)*g
				vRaw.Data[mi] = a.Beta2*vRaw.Data[mi] + (1-a.Beta2)*g*g

				mHat := mRaw.Data[mi] / bc1
				vHat := vRaw.Data[mi] / bc2
				value.Data[i*value.Stride+j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
			}
		}
	}
}
