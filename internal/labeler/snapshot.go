package labeler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// ErrSnapshotMismatch 快照与模型结构不一致
var ErrSnapshotMismatch = errors.New("snapshot does not match model")

// Matrix 序列化矩阵（行优先）
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Snapshot 模型快照：配置、参数、BatchNorm running 统计量
type Snapshot struct {
	Name    string               `json:"name"`
	Config  Config               `json:"config"`
	Params  map[string]Matrix    `json:"params"`
	Buffers map[string][]float64 `json:"buffers"`
}

func toMatrix(m *mat.Dense) Matrix {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return Matrix{Rows: r, Cols: c, Data: data}
}

// Snapshot 拷贝当前参数
func (m *Model) Snapshot() *Snapshot {
	s := &Snapshot{
		Name:    ModelName,
		Config:  m.cfg,
		Params:  make(map[string]Matrix),
		Buffers: make(map[string][]float64),
	}
	for _, p := range m.Params() {
		s.Params[p.Name] = toMatrix(p.Value)
	}
	for i, b := range m.blocks {
		s.Buffers[fmt.Sprintf("blocks.%d.norm.running_mean", i)] = append([]float64(nil), b.norm.RunningMean...)
		s.Buffers[fmt.Sprintf("blocks.%d.norm.running_var", i)] = append([]float64(nil), b.norm.RunningVar...)
	}
	return s
}

// Restore 用快照覆盖参数；结构不一致时不做任何修改
func (m *Model) Restore(s *Snapshot) error {
	if s.Name != ModelName {
		return fmt.Errorf("%w: model name %q", ErrSnapshotMismatch, s.Name)
	}

	params := m.Params()
	for _, p := range params {
		sm, ok := s.Params[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing parameter %s", ErrSnapshotMismatch, p.Name)
		}
		r, c := p.Value.Dims()
		if sm.Rows != r || sm.Cols != c || len(sm.Data) != r*c {
			return fmt.Errorf("%w: parameter %s has shape %dx%d, want %dx%d",
				ErrSnapshotMismatch, p.Name, sm.Rows, sm.Cols, r, c)
		}
	}
	for i, b := range m.blocks {
		for _, key := range []string{
			fmt.Sprintf("blocks.%d.norm.running_mean", i),
			fmt.Sprintf("blocks.%d.norm.running_var", i),
		} {
			if len(s.Buffers[key]) != len(b.norm.RunningMean) {
				return fmt.Errorf("%w: buffer %s", ErrSnapshotMismatch, key)
			}
		}
	}

	for _, p := range params {
		sm := s.Params[p.Name]
		for i := 0; i < sm.Rows; i++ {
			copy(p.Value.RawRowView(i), sm.Data[i*sm.Cols:(i+1)*sm.Cols])
		}
	}
	for i, b := range m.blocks {
		copy(b.norm.RunningMean, s.Buffers[fmt.Sprintf("blocks.%d.norm.running_mean", i)])
		copy(b.norm.RunningVar, s.Buffers[fmt.Sprintf("blocks.%d.norm.running_var", i)])
	}
	return nil
}

// Encode 以 JSON 写出快照
func (s *Snapshot) Encode(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Save 以 JSON 写出当前参数
func (m *Model) Save(w io.Writer) error {
	return m.Snapshot().Encode(w)
}

// Load 从 JSON 读取快照并按其配置重建模型
func Load(r io.Reader) (*Model, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	m, err := New(s.Config)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(&s); err != nil {
		return nil, err
	}
	return m, nil
}
