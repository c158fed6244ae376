// Package labeler 睡眠/清醒序列标注模型（ActiNetCRF）
//
// 结构：
//   - 4 个逐位置块：Dense(kernel=1) → GELU → Dropout → BatchNorm
//   - 双向 LSTM（窗口内前后文）
//   - 线性发射层（每步每类一个分数）
//   - 线性链 CRF：训练返回负对数似然，推理返回 Viterbi 路径
//
// 推理（Decode/DecodeBatch/Emissions）只读取参数，可以并发调用；
// 训练（Loss/Backward）会修改梯度和 BatchNorm 统计量，必须串行。
package labeler

import (
	"errors"
	"fmt"
	"math/rand"

	"wisefido-sleepstage/internal/crf"
	"wisefido-sleepstage/internal/nn"

	"gonum.org/v1/gonum/mat"
)

// ModelName 模型名称（快照与日志使用）
const ModelName = "ActiNetCRFv1"

const numBlocks = 4

var (
	// ErrInvalidConfig 模型配置非法
	ErrInvalidConfig = errors.New("invalid model config")
	// ErrInvalidBatch 输入 batch 形状非法
	ErrInvalidBatch = errors.New("invalid batch")
)

// Config 模型配置
type Config struct {
	InputSize      int     `json:"input_size"`
	HiddenSize     int     `json:"hidden_size"`
	NumClasses     int     `json:"num_classes"`
	Dropout        float64 `json:"dropout"`
	SequenceLength int     `json:"sequence_length"`
	Seed           int64   `json:"seed"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		InputSize:      2,
		HiddenSize:     64,
		NumClasses:     2,
		Dropout:        0.15,
		SequenceLength: 250,
		Seed:           42,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.NumClasses < 2:
		return fmt.Errorf("%w: num_classes must be >= 2, got %d", ErrInvalidConfig, c.NumClasses)
	case c.SequenceLength < 1:
		return fmt.Errorf("%w: sequence_length must be >= 1, got %d", ErrInvalidConfig, c.SequenceLength)
	case c.InputSize < 1:
		return fmt.Errorf("%w: input_size must be >= 1, got %d", ErrInvalidConfig, c.InputSize)
	case c.HiddenSize < 1:
		return fmt.Errorf("%w: hidden_size must be >= 1, got %d", ErrInvalidConfig, c.HiddenSize)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfig, c.Dropout)
	}
	return nil
}

type block struct {
	conv *nn.Dense
	drop nn.Dropout
	norm *nn.BatchNorm
}

// Model 序列标注模型
type Model struct {
	cfg    Config
	blocks []*block
	lstm   *nn.BiLSTM
	fc     *nn.Dense

	startTrans *nn.Param // 1 × C
	endTrans   *nn.Param // 1 × C
	trans      *nn.Param // C × C

	rng *rand.Rand // 仅训练时的 dropout 使用
}

// New 创建模型
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{cfg: cfg, rng: rng}

	in := cfg.InputSize
	for i := 0; i < numBlocks; i++ {
		m.blocks = append(m.blocks, &block{
			conv: nn.NewDense(fmt.Sprintf("blocks.%d.conv", i), in, cfg.HiddenSize, rng),
			drop: nn.Dropout{P: cfg.Dropout},
			norm: nn.NewBatchNorm(fmt.Sprintf("blocks.%d.norm", i), cfg.HiddenSize),
		})
		in = cfg.HiddenSize
	}
	m.lstm = nn.NewBiLSTM("lstm", cfg.HiddenSize, cfg.HiddenSize, rng)
	m.fc = nn.NewDense("fc", 2*cfg.HiddenSize, cfg.NumClasses, rng)

	m.startTrans = nn.NewParam("crf.start_transitions", 1, cfg.NumClasses)
	m.endTrans = nn.NewParam("crf.end_transitions", 1, cfg.NumClasses)
	m.trans = nn.NewParam("crf.transitions", cfg.NumClasses, cfg.NumClasses)
	for _, p := range []*nn.Param{m.startTrans, m.endTrans, m.trans} {
		p.InitUniform(rng, 0.1)
	}

	return m, nil
}

// Config 返回模型配置
func (m *Model) Config() Config {
	return m.cfg
}

// Name 模型名称
func (m *Model) Name() string {
	return ModelName
}

// Params 全部可训练参数（顺序固定）
func (m *Model) Params() []*nn.Param {
	var params []*nn.Param
	for _, b := range m.blocks {
		params = append(params, b.conv.Params()...)
		params = append(params, b.norm.Params()...)
	}
	params = append(params, m.lstm.Params()...)
	params = append(params, m.fc.Params()...)
	return append(params, m.startTrans, m.endTrans, m.trans)
}

// Transitions 当前 CRF 转移参数（与模型参数共享内存，只读）
func (m *Model) Transitions() *crf.Transitions {
	c := m.cfg.NumClasses
	tr := &crf.Transitions{
		Start:  m.startTrans.Value.RawRowView(0),
		End:    m.endTrans.Value.RawRowView(0),
		Matrix: make([][]float64, c),
	}
	for i := 0; i < c; i++ {
		tr.Matrix[i] = m.trans.Value.RawRowView(i)
	}
	return tr
}

// checkBatch 校验 batch 形状，返回 (B, T)
func (m *Model) checkBatch(features [][][]float64) (int, int, error) {
	if len(features) == 0 {
		return 0, 0, fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}
	steps := len(features[0])
	if steps < 1 {
		return 0, 0, fmt.Errorf("%w: empty window", ErrInvalidBatch)
	}
	for b, w := range features {
		if len(w) != steps {
			return 0, 0, fmt.Errorf("%w: window %d has %d steps, want %d", ErrInvalidBatch, b, len(w), steps)
		}
		for t, row := range w {
			if len(row) != m.cfg.InputSize {
				return 0, 0, fmt.Errorf("%w: window %d step %d has %d features, want %d",
					ErrInvalidBatch, b, t, len(row), m.cfg.InputSize)
			}
		}
	}
	return len(features), steps, nil
}

// flatten (B, T, F) → (B·T × F)，第 b 个窗口第 t 步在第 b·T+t 行
func flatten(features [][][]float64, cols int) *mat.Dense {
	batch, steps := len(features), len(features[0])
	x := mat.NewDense(batch*steps, cols, nil)
	for b, w := range features {
		for t, row := range w {
			copy(x.RawRowView(b*steps+t), row)
		}
	}
	return x
}

// toSteps (B·T × C) → T 个 (B × C)
func toSteps(flat *mat.Dense, batch, steps int) []*mat.Dense {
	_, c := flat.Dims()
	xs := make([]*mat.Dense, steps)
	for t := 0; t < steps; t++ {
		m := mat.NewDense(batch, c, nil)
		for b := 0; b < batch; b++ {
			copy(m.RawRowView(b), flat.RawRowView(b*steps+t))
		}
		xs[t] = m
	}
	return xs
}

// fromSteps T 个 (B × C) → (B·T × C)
func fromSteps(xs []*mat.Dense) *mat.Dense {
	steps := len(xs)
	batch, c := xs[0].Dims()
	flat := mat.NewDense(batch*steps, c, nil)
	for t, m := range xs {
		for b := 0; b < batch; b++ {
			copy(flat.RawRowView(b*steps+t), m.RawRowView(b))
		}
	}
	return flat
}

// windowEmissions 取第 b 个窗口的发射分数（与 e 共享内存）
func windowEmissions(e *mat.Dense, b, steps int) [][]float64 {
	rows := make([][]float64, steps)
	for t := 0; t < steps; t++ {
		rows[t] = e.RawRowView(b*steps + t)
	}
	return rows
}
