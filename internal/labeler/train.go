package labeler

import (
	"fmt"

	"wisefido-sleepstage/internal/crf"
	"wisefido-sleepstage/internal/nn"

	"gonum.org/v1/gonum/mat"
)

// Tape 一次训练前向的中间结果，供 Backward 使用
type Tape struct {
	batch int
	steps int

	blockIn []*mat.Dense
	pre     []*mat.Dense
	masks   []*mat.Dense
	norms   []*nn.BatchNormCache

	lstm    *nn.BiLSTMCache
	lstmOut *mat.Dense

	dEmissions *mat.Dense
	crfGrads   []*crf.Gradient
}

// Loss 训练模式前向：返回 batch 内所有窗口负对数似然之和
func (m *Model) Loss(features [][][]float64, labels [][]int) (float64, *Tape, error) {
	batch, steps, err := m.checkBatch(features)
	if err != nil {
		return 0, nil, err
	}
	if len(labels) != batch {
		return 0, nil, fmt.Errorf("%w: %d label sequences for %d windows", ErrInvalidBatch, len(labels), batch)
	}

	tape := &Tape{batch: batch, steps: steps}

	h := flatten(features, m.cfg.InputSize)
	for _, blk := range m.blocks {
		tape.blockIn = append(tape.blockIn, h)
		z := blk.conv.Forward(h)
		a := nn.GELU(z)
		d, mask := blk.drop.Forward(a, m.rng)
		out, cache := blk.norm.ForwardTrain(d)

		tape.pre = append(tape.pre, z)
		tape.masks = append(tape.masks, mask)
		tape.norms = append(tape.norms, cache)
		h = out
	}

	outs, lstmCache := m.lstm.Forward(toSteps(h, batch, steps))
	tape.lstm = lstmCache
	tape.lstmOut = fromSteps(outs)

	emissions := m.fc.Forward(tape.lstmOut)
	tape.dEmissions = mat.NewDense(batch*steps, m.cfg.NumClasses, nil)

	tr := m.Transitions()
	var total float64
	for b := 0; b < batch; b++ {
		g, err := crf.Gradients(windowEmissions(emissions, b, steps), tr, labels[b])
		if err != nil {
			return 0, nil, fmt.Errorf("window %d: %w", b, err)
		}
		total += g.Loss
		for t := 0; t < steps; t++ {
			copy(tape.dEmissions.RawRowView(b*steps+t), g.Emissions[t])
		}
		tape.crfGrads = append(tape.crfGrads, g)
	}

	return total, tape, nil
}

// Backward 把 tape 对应损失的梯度累加到 Params()
func (m *Model) Backward(tape *Tape) {
	for _, g := range tape.crfGrads {
		addTo(m.startTrans.Grad.RawRowView(0), g.Start)
		addTo(m.endTrans.Grad.RawRowView(0), g.End)
		for i, row := range g.Matrix {
			addTo(m.trans.Grad.RawRowView(i), row)
		}
	}

	dFlat := m.fc.Backward(tape.lstmOut, tape.dEmissions)
	dxs := m.lstm.Backward(tape.lstm, toSteps(dFlat, tape.batch, tape.steps))
	dh := fromSteps(dxs)

	for i := len(m.blocks) - 1; i >= 0; i-- {
		blk := m.blocks[i]
		d := blk.norm.Backward(tape.norms[i], dh)
		d = blk.drop.Backward(tape.masks[i], d)
		d = nn.GELUBackward(tape.pre[i], d)
		dh = blk.conv.Backward(tape.blockIn[i], d)
	}
}

// ZeroGrad 清空全部梯度
func (m *Model) ZeroGrad() {
	nn.ZeroGrads(m.Params())
}

func addTo(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}
