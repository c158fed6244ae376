package crf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func zeroTransitions(t *testing.T, c int) *Transitions {
	tr, err := NewTransitions(c)
	require.NoError(t, err)
	return tr
}

func randomProblem(rng *rand.Rand, n, c int) ([][]float64, *Transitions) {
	emissions := make([][]float64, n)
	for i := range emissions {
		emissions[i] = make([]float64, c)
		for j := range emissions[i] {
			emissions[i][j] = rng.NormFloat64() * 2
		}
	}
	tr, _ := NewTransitions(c)
	for i := 0; i < c; i++ {
		tr.Start[i] = rng.NormFloat64()
		tr.End[i] = rng.NormFloat64()
		for j := 0; j < c; j++ {
			tr.Matrix[i][j] = rng.NormFloat64()
		}
	}
	return emissions, tr
}

// allPaths 枚举所有长度为 n 的标签序列
func allPaths(n, c int) [][]int {
	total := int(math.Pow(float64(c), float64(n)))
	paths := make([][]int, 0, total)
	for k := 0; k < total; k++ {
		p := make([]int, n)
		v := k
		for t := n - 1; t >= 0; t-- {
			p[t] = v % c
			v /= c
		}
		paths = append(paths, p)
	}
	return paths
}

func TestNewTransitions_InvalidClassCount(t *testing.T) {
	_, err := NewTransitions(1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewTransitions(0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoss_HandComputed(t *testing.T) {
	tr := zeroTransitions(t, 2)
	emissions := [][]float64{{1, 0}, {0, 2}}

	loss, err := Loss(emissions, tr, []int{0, 1})
	require.NoError(t, err)

	want := math.Log(math.E+1) + math.Log(1+math.Exp(2)) - 3
	assert.InDelta(t, want, loss, 1e-12)
}

func TestDecode_HandComputed(t *testing.T) {
	tr := zeroTransitions(t, 2)
	emissions := [][]float64{{1, 0}, {0, 2}}

	path, err := Decode(emissions, tr)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, path)

	// 0→1 惩罚很大：路径分数 00=1, 01=-7, 10=0, 11=2
	tr.Matrix[0][1] = -10
	path, err = Decode(emissions, tr)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, path)
}

func TestDecode_TiesResolveToLowerClass(t *testing.T) {
	tr := zeroTransitions(t, 2)
	emissions := [][]float64{{0, 0}, {0, 0}, {0, 0}}

	path, err := Decode(emissions, tr)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, path)
}

func TestDecode_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		emissions, tr := randomProblem(rng, 5, 3)

		best := math.Inf(-1)
		var bestPath []int
		for _, p := range allPaths(5, 3) {
			s, err := PathScore(emissions, tr, p)
			require.NoError(t, err)
			if s > best {
				best, bestPath = s, p
			}
		}

		path, err := Decode(emissions, tr)
		require.NoError(t, err)
		assert.Equal(t, bestPath, path)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	emissions, tr := randomProblem(rng, 50, 2)

	first, err := Decode(emissions, tr)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Decode(emissions, tr)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLogPartition_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	emissions, tr := randomProblem(rng, 4, 2)

	var scores []float64
	for _, p := range allPaths(4, 2) {
		s, err := PathScore(emissions, tr, p)
		require.NoError(t, err)
		scores = append(scores, s)
	}

	logZ, err := LogPartition(emissions, tr)
	require.NoError(t, err)
	assert.InDelta(t, floats.LogSumExp(scores), logZ, 1e-10)
}

func TestLoss_NonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 50; trial++ {
		emissions, tr := randomProblem(rng, 1+rng.Intn(30), 2)
		labels := make([]int, len(emissions))
		for i := range labels {
			labels[i] = rng.Intn(2)
		}
		loss, err := Loss(emissions, tr, labels)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, loss, 0.0)
	}

	// 单一路径占据几乎全部概率质量
	tr := zeroTransitions(t, 2)
	emissions := [][]float64{{500, -500}, {500, -500}}
	loss, err := Loss(emissions, tr, []int{0, 0})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loss, 0.0)
}

func TestLoss_LargeScoresStayFinite(t *testing.T) {
	tr := zeroTransitions(t, 2)
	emissions := [][]float64{{1e4, 9e3}, {8e3, 1e4}, {1e4, 1e4}}

	loss, err := Loss(emissions, tr, []int{1, 0, 1})
	require.NoError(t, err)
	assert.False(t, math.IsInf(loss, 0))
	assert.False(t, math.IsNaN(loss))
}

func TestLoss_NaNIsNumericError(t *testing.T) {
	tr := zeroTransitions(t, 2)
	emissions := [][]float64{{math.NaN(), 0}, {0, 1}}

	_, err := Loss(emissions, tr, []int{0, 1})
	assert.ErrorIs(t, err, ErrNumeric)

	_, err = Decode([][]float64{{math.Inf(1), math.Inf(1)}}, tr)
	assert.Error(t, err)
}

func TestInvalidInput(t *testing.T) {
	tr := zeroTransitions(t, 2)

	_, err := Decode(nil, tr)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Loss([][]float64{{0, 0}}, tr, []int{2})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Loss([][]float64{{0, 0}, {0, 0}}, tr, []int{0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Decode([][]float64{{0, 0, 0}}, tr)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGradients_MatchFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	emissions, tr := randomProblem(rng, 6, 2)
	labels := []int{0, 0, 1, 1, 0, 1}

	g, err := Gradients(emissions, tr, labels)
	require.NoError(t, err)

	loss, err := Loss(emissions, tr, labels)
	require.NoError(t, err)
	assert.InDelta(t, loss, g.Loss, 1e-12)

	const h = 1e-6
	numeric := func(p *float64) float64 {
		orig := *p
		*p = orig + h
		up, _ := Loss(emissions, tr, labels)
		*p = orig - h
		down, _ := Loss(emissions, tr, labels)
		*p = orig
		return (up - down) / (2 * h)
	}

	for ti := range emissions {
		for j := range emissions[ti] {
			assert.InDelta(t, numeric(&emissions[ti][j]), g.Emissions[ti][j], 1e-5)
		}
	}
	for i := 0; i < 2; i++ {
		assert.InDelta(t, numeric(&tr.Start[i]), g.Start[i], 1e-5)
		assert.InDelta(t, numeric(&tr.End[i]), g.End[i], 1e-5)
		for j := 0; j < 2; j++ {
			assert.InDelta(t, numeric(&tr.Matrix[i][j]), g.Matrix[i][j], 1e-5)
		}
	}
}

func TestGradients_SingleStep(t *testing.T) {
	tr := zeroTransitions(t, 2)
	g, err := Gradients([][]float64{{0, 0}}, tr, []int{1})
	require.NoError(t, err)

	assert.InDelta(t, math.Log(2), g.Loss, 1e-12)
	assert.InDelta(t, 0.5, g.Emissions[0][0], 1e-12)
	assert.InDelta(t, -0.5, g.Emissions[0][1], 1e-12)
	assert.Equal(t, g.Emissions[0], g.Start)
	assert.Equal(t, g.Emissions[0], g.End)
}
