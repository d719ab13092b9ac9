package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"glucosense/internal/domain"
)

// Normalizer standardises each column to zero mean and unit variance using
// parameters fitted once on the raw training matrix.
type Normalizer struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fitted reports whether Fit has run.
func (n *Normalizer) Fitted() bool { return n != nil && len(n.Mean) > 0 }

// Fit computes per-column population mean and standard deviation. Columns
// with zero variance get a scale of 1.
func (n *Normalizer) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("normalizer fit: empty matrix")
	}
	cols := len(x[0])
	mean := make([]float64, cols)
	scale := make([]float64, cols)
	col := make([]float64, len(x))
	for j := 0; j < cols; j++ {
		for i, row := range x {
			if len(row) != cols {
				return fmt.Errorf("normalizer fit: row %d has %d columns, want %d", i, len(row), cols)
			}
			col[i] = row[j]
		}
		m, v := stat.PopMeanVariance(col, nil)
		mean[j] = m
		scale[j] = math.Sqrt(v)
		if scale[j] == 0 || math.IsNaN(scale[j]) {
			scale[j] = 1
		}
	}
	n.Mean, n.Scale = mean, scale
	return nil
}

// Transform returns a standardised copy of x.
func (n *Normalizer) Transform(x [][]float64) ([][]float64, error) {
	if !n.Fitted() {
		return nil, fmt.Errorf("normalizer transform: %w", domain.ErrNotFitted)
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(n.Mean) {
			return nil, fmt.Errorf("normalizer transform: row %d has %d columns, want %d", i, len(row), len(n.Mean))
		}
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - n.Mean[j]) / n.Scale[j]
		}
		out[i] = r
	}
	return out, nil
}

// FitTransform fits on x and returns its transform.
func (n *Normalizer) FitTransform(x [][]float64) ([][]float64, error) {
	if err := n.Fit(x); err != nil {
		return nil, err
	}
	return n.Transform(x)
}
