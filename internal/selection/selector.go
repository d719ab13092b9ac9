// Package selection keeps the features an auxiliary boosted model finds
// most useful.
package selection

import (
	"fmt"
	"sort"

	"glucosense/internal/domain"
	"glucosense/internal/ensemble"
)

// Selector keeps every feature whose importance is at least the median.
type Selector struct {
	Params     ensemble.BoosterParams
	Importance []float64
	Keep       []int
}

// New returns an unfitted selector using the default auxiliary model.
func New() *Selector {
	return &Selector{Params: ensemble.DefaultBoosterParams()}
}

// Fitted reports whether Fit has completed.
func (s *Selector) Fitted() bool { return s != nil && len(s.Keep) > 0 }

// Fit trains the auxiliary booster on x and y and records which columns
// survive.
func (s *Selector) Fit(x [][]float64, y []int) error {
	aux := ensemble.NewBooster(s.Params)
	if err := aux.Fit(x, y); err != nil {
		return fmt.Errorf("feature selection: %w", err)
	}
	imp := aux.Importance()
	threshold := median(imp)

	keep := make([]int, 0, len(imp))
	for f, v := range imp {
		if v >= threshold {
			keep = append(keep, f)
		}
	}
	s.Importance, s.Keep = imp, keep
	return nil
}

// Transform projects x onto the kept columns.
func (s *Selector) Transform(x [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("feature selection: %w", domain.ErrNotFitted)
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.Importance) {
			return nil, fmt.Errorf("feature selection: row %d has %d columns, want %d", i, len(row), len(s.Importance))
		}
		sel := make([]float64, len(s.Keep))
		for j, f := range s.Keep {
			sel[j] = row[f]
		}
		out[i] = sel
	}
	return out, nil
}

// Mask reports per column whether the feature is kept.
func (s *Selector) Mask() []bool {
	mask := make([]bool, len(s.Importance))
	for _, f := range s.Keep {
		mask[f] = true
	}
	return mask
}

// KeptNames maps kept columns back to feature names when the selector was
// fitted on the full patient vector.
func (s *Selector) KeptNames() []string {
	names := make([]string, 0, len(s.Keep))
	for _, f := range s.Keep {
		if f < len(domain.FeatureNames) {
			names = append(names, domain.FeatureNames[f])
		}
	}
	return names
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
