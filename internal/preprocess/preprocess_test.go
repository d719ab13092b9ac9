package preprocess

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucosense/internal/domain"
)

func TestNormalizer_FitTransform(t *testing.T) {
	x := [][]float64{{1, 10, 5}, {3, 20, 5}, {5, 30, 5}}
	var n Normalizer
	out, err := n.FitTransform(x)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{3, 20, 5}, n.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(8.0/3.0), n.Scale[0], 1e-12)
	assert.Equal(t, 1.0, n.Scale[2], "constant column keeps unit scale")

	for j := 0; j < 2; j++ {
		sum := 0.0
		for i := range out {
			sum += out[i][j]
		}
		assert.InDelta(t, 0, sum, 1e-12)
	}
	assert.Equal(t, 0.0, out[1][0])
}

func TestNormalizer_SingleRowMatchesBatch(t *testing.T) {
	x := [][]float64{{1, 2}, {2, 4}, {9, 1}}
	var n Normalizer
	batch, err := n.FitTransform(x)
	require.NoError(t, err)

	single, err := n.Transform([][]float64{x[2]})
	require.NoError(t, err)
	assert.Equal(t, batch[2], single[0])
}

func TestNormalizer_TransformBeforeFit(t *testing.T) {
	var n Normalizer
	_, err := n.Transform([][]float64{{1}})
	assert.True(t, errors.Is(err, domain.ErrNotFitted))
}

func TestNormalizer_ColumnMismatch(t *testing.T) {
	var n Normalizer
	require.NoError(t, n.Fit([][]float64{{1, 2}, {3, 4}}))
	_, err := n.Transform([][]float64{{1}})
	assert.Error(t, err)
}

func TestSMOTE_BalancesMinority(t *testing.T) {
	x := [][]float64{{0, 0}, {0, 1}, {1, 0}, {10, 10}, {10, 11}, {11, 10}, {11, 11}, {12, 12}}
	y := []int{1, 1, 1, 0, 0, 0, 0, 0}

	rx, ry, err := NewSMOTE(42).Resample(x, y)
	require.NoError(t, err)
	require.Len(t, rx, 10)

	pos := 0
	for _, label := range ry {
		pos += label
	}
	assert.Equal(t, 5, pos)

	// Synthetic rows lie inside the minority cluster's bounding box.
	for _, row := range rx[len(x):] {
		assert.GreaterOrEqual(t, row[0], 0.0)
		assert.LessOrEqual(t, row[0], 1.0)
		assert.GreaterOrEqual(t, row[1], 0.0)
		assert.LessOrEqual(t, row[1], 1.0)
	}
	assert.Equal(t, x, rx[:len(x)], "original rows are kept in order")
}

func TestSMOTE_Deterministic(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {10}, {11}, {12}, {13}}
	y := []int{1, 1, 1, 0, 0, 0, 0}
	a, _, err := NewSMOTE(1).Resample(x, y)
	require.NoError(t, err)
	b, _, err := NewSMOTE(1).Resample(x, y)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSMOTE_AlreadyBalancedAndTooSmall(t *testing.T) {
	x := [][]float64{{0}, {1}}
	rx, _, err := NewSMOTE(1).Resample(x, []int{0, 1})
	require.NoError(t, err)
	assert.Len(t, rx, 2)

	_, _, err = NewSMOTE(1).Resample([][]float64{{0}, {1}, {2}}, []int{0, 0, 1})
	assert.Error(t, err)
}

func TestStratifiedSplit(t *testing.T) {
	var x [][]float64
	var y []int
	for i := 0; i < 100; i++ {
		x = append(x, []float64{float64(i)})
		y = append(y, i%2)
	}
	s, err := StratifiedSplit(x, y, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, s.TestX, 20)
	assert.Len(t, s.TrainX, 80)

	pos := 0
	for _, label := range s.TestY {
		pos += label
	}
	assert.Equal(t, 10, pos)

	again, err := StratifiedSplit(x, y, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, s, again)

	_, err = StratifiedSplit(x, y, 1.5, 42)
	assert.Error(t, err)
}
