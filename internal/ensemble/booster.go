package ensemble

import (
	"fmt"
	"math"
	"math/rand"

	"glucosense/internal/domain"
)

// BoosterParams configures a gradient-boosted tree classifier.
type BoosterParams struct {
	Rounds         int
	LearningRate   float64
	MaxDepth       int
	Subsample      float64
	Lambda         float64
	Gamma          float64
	MinChildWeight float64
	Seed           int64
}

// DefaultBoosterParams mirrors the usual xgboost defaults.
func DefaultBoosterParams() BoosterParams {
	return BoosterParams{
		Rounds:         100,
		LearningRate:   0.3,
		MaxDepth:       6,
		Subsample:      1,
		Lambda:         1,
		MinChildWeight: 1,
		Seed:           42,
	}
}

// Booster is a binary gradient-boosted tree ensemble trained on logistic
// loss with second-order split statistics.
type Booster struct {
	Params     BoosterParams `json:"params"`
	BaseMargin float64       `json:"base_margin"`
	Trees      []*Tree       `json:"trees"`
	Features   int           `json:"features"`

	gain   []float64
	splits []int
}

// NewBooster returns an unfitted booster.
func NewBooster(p BoosterParams) *Booster {
	if p.Rounds <= 0 {
		p.Rounds = 100
	}
	if p.LearningRate <= 0 {
		p.LearningRate = 0.3
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = 6
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = 1
	}
	if p.MinChildWeight < 0 {
		p.MinChildWeight = 0
	}
	return &Booster{Params: p}
}

// Fit trains the ensemble on x with binary labels y.
func (b *Booster) Fit(x [][]float64, y []int) error {
	if err := checkXY(x, y); err != nil {
		return fmt.Errorf("booster fit: %w", err)
	}
	n := len(x)
	b.Features = len(x[0])
	b.gain = make([]float64, b.Features)
	b.splits = make([]int, b.Features)
	b.Trees = b.Trees[:0]

	pos := 0
	for _, label := range y {
		pos += label
	}
	rate := clamp(float64(pos)/float64(n), 1e-6, 1-1e-6)
	b.BaseMargin = math.Log(rate / (1 - rate))

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = b.BaseMargin
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	rng := rand.New(rand.NewSource(b.Params.Seed))
	tp := treeParams{
		maxDepth:       b.Params.MaxDepth,
		lambda:         b.Params.Lambda,
		gamma:          b.Params.Gamma,
		minChildWeight: b.Params.MinChildWeight,
		eta:            b.Params.LearningRate,
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for round := 0; round < b.Params.Rounds; round++ {
		for i := 0; i < n; i++ {
			p := sigmoid(margin[i])
			grad[i] = p - float64(y[i])
			hess[i] = math.Max(p*(1-p), 1e-16)
		}
		rows := all
		if b.Params.Subsample < 1 {
			rows = make([]int, 0, n)
			for _, i := range all {
				if rng.Float64() < b.Params.Subsample {
					rows = append(rows, i)
				}
			}
			if len(rows) == 0 {
				rows = all
			}
		}
		tree := newTreeBuilder(x, grad, hess, tp, b.gain, b.splits).build(rows)
		b.Trees = append(b.Trees, tree)
		for i := 0; i < n; i++ {
			margin[i] += tree.predict(x[i])
		}
	}
	return nil
}

// Fitted reports whether Fit has completed.
func (b *Booster) Fitted() bool { return b != nil && len(b.Trees) > 0 }

// PredictProba returns the positive-class probability for each row.
func (b *Booster) PredictProba(x [][]float64) ([]float64, error) {
	if !b.Fitted() {
		return nil, fmt.Errorf("booster predict: %w", domain.ErrNotFitted)
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != b.Features {
			return nil, fmt.Errorf("booster predict: row %d has %d features, want %d", i, len(row), b.Features)
		}
		m := b.BaseMargin
		for _, t := range b.Trees {
			m += t.predict(row)
		}
		out[i] = sigmoid(m)
	}
	return out, nil
}

// Importance returns per-feature average split gain normalised to sum to
// one. Features never used in a split score zero.
func (b *Booster) Importance() []float64 {
	out := make([]float64, b.Features)
	total := 0.0
	for f := range out {
		if f < len(b.splits) && b.splits[f] > 0 {
			out[f] = b.gain[f] / float64(b.splits[f])
			total += out[f]
		}
	}
	if total > 0 {
		for f := range out {
			out[f] /= total
		}
	}
	return out
}

func sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func checkXY(x [][]float64, y []int) error {
	if len(x) == 0 {
		return fmt.Errorf("empty training matrix")
	}
	if len(x) != len(y) {
		return fmt.Errorf("%d rows but %d labels", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return fmt.Errorf("training matrix has no columns")
	}
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return fmt.Errorf("label %d at row %d is not binary", label, i)
		}
	}
	return nil
}
