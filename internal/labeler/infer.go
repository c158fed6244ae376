package labeler

import (
	"fmt"

	"wisefido-sleepstage/internal/crf"
	"wisefido-sleepstage/internal/nn"
)

// Emissions 推理模式下每个窗口的发射分数 (B, T, C)
func (m *Model) Emissions(features [][][]float64) ([][][]float64, error) {
	batch, steps, err := m.checkBatch(features)
	if err != nil {
		return nil, err
	}

	h := flatten(features, m.cfg.InputSize)
	for _, blk := range m.blocks {
		h = blk.norm.ForwardEval(nn.GELU(blk.conv.Forward(h)))
	}
	outs := m.lstm.Infer(toSteps(h, batch, steps))
	e := m.fc.Forward(fromSteps(outs))

	result := make([][][]float64, batch)
	for b := 0; b < batch; b++ {
		rows := windowEmissions(e, b, steps)
		result[b] = make([][]float64, steps)
		for t, row := range rows {
			result[b][t] = append([]float64(nil), row...)
		}
	}
	return result, nil
}

// DecodeBatch 推理模式：每个窗口的 Viterbi 标签序列
func (m *Model) DecodeBatch(features [][][]float64) ([][]int, error) {
	emissions, err := m.Emissions(features)
	if err != nil {
		return nil, err
	}

	tr := m.Transitions()
	paths := make([][]int, len(emissions))
	for b, e := range emissions {
		path, err := crf.Decode(e, tr)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", b, err)
		}
		paths[b] = path
	}
	return paths, nil
}

// Decode 解码单个窗口 (T × F)
func (m *Model) Decode(features [][]float64) ([]int, error) {
	paths, err := m.DecodeBatch([][][]float64{features})
	if err != nil {
		return nil, err
	}
	return paths[0], nil
}
