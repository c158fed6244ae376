package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LSTM 单向 LSTM 层，门顺序为 i, f, g, o
//
// 输入按时间步给出：xs[t] 为 (B × in)，B 个序列同时计算。
type LSTM struct {
	Hidden int
	Wih    *Param // in × 4H
	Whh    *Param // H × 4H
	B      *Param // 1 × 4H
}

// LSTMCache 前向缓存（反向传播用）
type LSTMCache struct {
	xs    []*mat.Dense
	hs    []*mat.Dense // len T+1，hs[0] 为初始状态
	cs    []*mat.Dense // len T+1
	gates []*mat.Dense // 激活后的门，B × 4H
	tanhC []*mat.Dense
}

// NewLSTM 创建 LSTM 层，权重按 U(-1/sqrt(H), 1/sqrt(H)) 初始化
func NewLSTM(name string, in, hidden int, rng *rand.Rand) *LSTM {
	l := &LSTM{
		Hidden: hidden,
		Wih:    NewParam(name+".weight_ih", in, 4*hidden),
		Whh:    NewParam(name+".weight_hh", hidden, 4*hidden),
		B:      NewParam(name+".bias", 1, 4*hidden),
	}
	bound := 1 / math.Sqrt(float64(hidden))
	l.Wih.InitUniform(rng, bound)
	l.Whh.InitUniform(rng, bound)
	l.B.InitUniform(rng, bound)
	return l
}

// Params 参数列表
func (l *LSTM) Params() []*Param {
	return []*Param{l.Wih, l.Whh, l.B}
}

// Forward 前向，返回每个时间步的隐藏状态 (B × H)
func (l *LSTM) Forward(xs []*mat.Dense) ([]*mat.Dense, *LSTMCache) {
	steps := len(xs)
	batch, _ := xs[0].Dims()
	h := l.Hidden

	cache := &LSTMCache{
		xs:    xs,
		hs:    make([]*mat.Dense, steps+1),
		cs:    make([]*mat.Dense, steps+1),
		gates: make([]*mat.Dense, steps),
		tanhC: make([]*mat.Dense, steps),
	}
	cache.hs[0] = mat.NewDense(batch, h, nil)
	cache.cs[0] = mat.NewDense(batch, h, nil)
	bias := l.B.Value.RawRowView(0)

	for t := 0; t < steps; t++ {
		var a, ah mat.Dense
		a.Mul(xs[t], l.Wih.Value)
		ah.Mul(cache.hs[t], l.Whh.Value)
		a.Add(&a, &ah)

		hNext := mat.NewDense(batch, h, nil)
		cNext := mat.NewDense(batch, h, nil)
		tc := mat.NewDense(batch, h, nil)
		for b := 0; b < batch; b++ {
			row := a.RawRowView(b)
			cPrev := cache.cs[t].RawRowView(b)
			cRow := cNext.RawRowView(b)
			hRow := hNext.RawRowView(b)
			tRow := tc.RawRowView(b)
			for k := 0; k < h; k++ {
				ig := sigmoid(row[k] + bias[k])
				fg := sigmoid(row[h+k] + bias[h+k])
				gg := math.Tanh(row[2*h+k] + bias[2*h+k])
				og := sigmoid(row[3*h+k] + bias[3*h+k])
				row[k], row[h+k], row[2*h+k], row[3*h+k] = ig, fg, gg, og

				cRow[k] = fg*cPrev[k] + ig*gg
				tRow[k] = math.Tanh(cRow[k])
				hRow[k] = og * tRow[k]
			}
		}
		cache.gates[t] = &a
		cache.cs[t+1] = cNext
		cache.hs[t+1] = hNext
		cache.tanhC[t] = tc
	}

	return cache.hs[1:], cache
}

// Infer 只读前向（不保留缓存）
func (l *LSTM) Infer(xs []*mat.Dense) []*mat.Dense {
	out, _ := l.Forward(xs)
	return out
}

// Backward 沿时间反向传播，累加参数梯度，返回每个时间步的 dx
func (l *LSTM) Backward(cache *LSTMCache, dhs []*mat.Dense) []*mat.Dense {
	steps := len(cache.xs)
	batch, _ := cache.xs[0].Dims()
	h := l.Hidden

	dxs := make([]*mat.Dense, steps)
	dhNext := mat.NewDense(batch, h, nil)
	dcNext := mat.NewDense(batch, h, nil)
	da := mat.NewDense(batch, 4*h, nil)
	dBias := l.B.Grad.RawRowView(0)

	for t := steps - 1; t >= 0; t-- {
		gates := cache.gates[t]
		for b := 0; b < batch; b++ {
			g := gates.RawRowView(b)
			dh := dhs[t].RawRowView(b)
			dhn := dhNext.RawRowView(b)
			dcn := dcNext.RawRowView(b)
			tc := cache.tanhC[t].RawRowView(b)
			cPrev := cache.cs[t].RawRowView(b)
			out := da.RawRowView(b)
			for k := 0; k < h; k++ {
				ig, fg, gg, og := g[k], g[h+k], g[2*h+k], g[3*h+k]
				dhk := dh[k] + dhn[k]

				do := dhk * tc[k]
				dc := dhk*og*(1-tc[k]*tc[k]) + dcn[k]

				out[k] = dc * gg * ig * (1 - ig)
				out[h+k] = dc * cPrev[k] * fg * (1 - fg)
				out[2*h+k] = dc * ig * (1 - gg*gg)
				out[3*h+k] = do * og * (1 - og)

				dcn[k] = dc * fg
			}
		}

		var gwi, gwh mat.Dense
		gwi.Mul(cache.xs[t].T(), da)
		l.Wih.Grad.Add(l.Wih.Grad, &gwi)
		gwh.Mul(cache.hs[t].T(), da)
		l.Whh.Grad.Add(l.Whh.Grad, &gwh)
		accumulateColSums(dBias, da)

		var dx mat.Dense
		dx.Mul(da, l.Wih.Value.T())
		dxs[t] = &dx
		dhNext.Mul(da, l.Whh.Value.T())
	}
	return dxs
}

// BiLSTM 双向 LSTM，输出为 [前向 H | 反向 H]
type BiLSTM struct {
	Fwd *LSTM
	Bwd *LSTM
}

// BiLSTMCache 前向缓存
type BiLSTMCache struct {
	fwd *LSTMCache
	bwd *LSTMCache
}

// NewBiLSTM 创建双向 LSTM
func NewBiLSTM(name string, in, hidden int, rng *rand.Rand) *BiLSTM {
	return &BiLSTM{
		Fwd: NewLSTM(name+".forward", in, hidden, rng),
		Bwd: NewLSTM(name+".reverse", in, hidden, rng),
	}
}

// Params 参数列表
func (bl *BiLSTM) Params() []*Param {
	return append(bl.Fwd.Params(), bl.Bwd.Params()...)
}

// Forward 前向，返回每个时间步的 (B × 2H)
func (bl *BiLSTM) Forward(xs []*mat.Dense) ([]*mat.Dense, *BiLSTMCache) {
	fwdOut, fwdCache := bl.Fwd.Forward(xs)
	bwdOut, bwdCache := bl.Bwd.Forward(reversed(xs))
	return concatSteps(fwdOut, reversed(bwdOut)), &BiLSTMCache{fwd: fwdCache, bwd: bwdCache}
}

// Infer 只读前向
func (bl *BiLSTM) Infer(xs []*mat.Dense) []*mat.Dense {
	out, _ := bl.Forward(xs)
	return out
}

// Backward 反向，返回每个时间步的 dx
func (bl *BiLSTM) Backward(cache *BiLSTMCache, douts []*mat.Dense) []*mat.Dense {
	h := bl.Fwd.Hidden
	steps := len(douts)
	dFwd := make([]*mat.Dense, steps)
	dBwd := make([]*mat.Dense, steps)
	for t, d := range douts {
		batch, _ := d.Dims()
		dFwd[t] = mat.DenseCopyOf(d.Slice(0, batch, 0, h))
		dBwd[steps-1-t] = mat.DenseCopyOf(d.Slice(0, batch, h, 2*h))
	}

	dxFwd := bl.Fwd.Backward(cache.fwd, dFwd)
	dxBwd := reversed(bl.Bwd.Backward(cache.bwd, dBwd))
	for t := range dxFwd {
		dxFwd[t].Add(dxFwd[t], dxBwd[t])
	}
	return dxFwd
}

func reversed(xs []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(xs))
	for i, x := range xs {
		out[len(xs)-1-i] = x
	}
	return out
}

func concatSteps(a, b []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(a))
	for t := range a {
		batch, ca := a[t].Dims()
		_, cb := b[t].Dims()
		m := mat.NewDense(batch, ca+cb, nil)
		for i := 0; i < batch; i++ {
			row := m.RawRowView(i)
			copy(row[:ca], a[t].RawRowView(i))
			copy(row[ca:], b[t].RawRowView(i))
		}
		out[t] = m
	}
	return out
}
