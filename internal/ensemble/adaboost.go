package ensemble

import (
	"fmt"
	"math"
	"sort"

	"glucosense/internal/domain"
)

// perfectError treats rounding residue in the weighted error as zero.
const perfectError = 1e-10

// Stump is a one-split decision tree voting -1 or +1.
type Stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
}

func (s Stump) vote(row []float64) float64 {
	if row[s.Feature] < s.Threshold {
		return s.Left
	}
	return s.Right
}

// AdaBoost is a SAMME ensemble of weighted decision stumps.
type AdaBoost struct {
	Rounds       int       `json:"rounds"`
	LearningRate float64   `json:"learning_rate"`
	Stumps       []Stump   `json:"stumps"`
	Alphas       []float64 `json:"alphas"`
	Features     int       `json:"features"`
}

// NewAdaBoost returns an unfitted ensemble of at most rounds stumps.
func NewAdaBoost(rounds int) *AdaBoost {
	if rounds <= 0 {
		rounds = 50
	}
	return &AdaBoost{Rounds: rounds, LearningRate: 1}
}

// Fit boosts stumps on x and y, stopping early on a perfect stump or one no
// better than chance.
func (a *AdaBoost) Fit(x [][]float64, y []int) error {
	if err := checkXY(x, y); err != nil {
		return fmt.Errorf("adaboost fit: %w", err)
	}
	n := len(x)
	a.Features = len(x[0])
	a.Stumps, a.Alphas = a.Stumps[:0], a.Alphas[:0]

	target := make([]float64, n)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
		target[i] = -1
		if y[i] == 1 {
			target[i] = 1
		}
	}

	for round := 0; round < a.Rounds; round++ {
		stump, err := fitStump(x, target, w)
		if err <= perfectError {
			a.Stumps = append(a.Stumps, stump)
			a.Alphas = append(a.Alphas, 1)
			break
		}
		if err >= 0.5 {
			if len(a.Stumps) == 0 {
				return fmt.Errorf("adaboost fit: first stump no better than chance (error %.3f)", err)
			}
			break
		}
		alpha := a.LearningRate * math.Log((1-err)/err)
		a.Stumps = append(a.Stumps, stump)
		a.Alphas = append(a.Alphas, alpha)

		sum := 0.0
		for i, row := range x {
			if stump.vote(row) != target[i] {
				w[i] *= math.Exp(alpha)
			}
			sum += w[i]
		}
		for i := range w {
			w[i] /= sum
		}
	}
	return nil
}

// Fitted reports whether Fit has completed.
func (a *AdaBoost) Fitted() bool { return a != nil && len(a.Stumps) > 0 }

// PredictProba maps the alpha-normalised vote in [-1, 1] through a sigmoid.
func (a *AdaBoost) PredictProba(x [][]float64) ([]float64, error) {
	if !a.Fitted() {
		return nil, fmt.Errorf("adaboost predict: %w", domain.ErrNotFitted)
	}
	total := 0.0
	for _, alpha := range a.Alphas {
		total += alpha
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != a.Features {
			return nil, fmt.Errorf("adaboost predict: row %d has %d features, want %d", i, len(row), a.Features)
		}
		d := 0.0
		for t, s := range a.Stumps {
			d += a.Alphas[t] * s.vote(row)
		}
		out[i] = sigmoid(d / total)
	}
	return out, nil
}

// fitStump finds the stump with the lowest weighted error.
func fitStump(x [][]float64, target, w []float64) (Stump, float64) {
	n := len(x)
	var totalPos float64
	for i := range target {
		if target[i] > 0 {
			totalPos += w[i]
		}
	}
	totalNeg := 1 - totalPos

	// Baseline: constant vote for the heavier class.
	best := Stump{Feature: 0, Threshold: math.Inf(-1), Left: 1, Right: 1}
	bestErr := totalNeg
	if totalNeg > totalPos {
		best.Left, best.Right = -1, -1
		bestErr = totalPos
	}

	order := make([]int, n)
	for f := 0; f < len(x[0]); f++ {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return x[order[i]][f] < x[order[j]][f] })

		var leftPos, leftNeg float64
		for i := 0; i < n-1; i++ {
			r := order[i]
			if target[r] > 0 {
				leftPos += w[r]
			} else {
				leftNeg += w[r]
			}
			cur, next := x[r][f], x[order[i+1]][f]
			if cur == next {
				continue
			}
			// Left votes -1, right votes +1.
			errLowNeg := leftPos + (totalNeg - leftNeg)
			thr := (cur + next) / 2
			if errLowNeg < bestErr {
				bestErr = errLowNeg
				best = Stump{Feature: f, Threshold: thr, Left: -1, Right: 1}
			}
			if errFlip := 1 - errLowNeg; errFlip < bestErr {
				bestErr = errFlip
				best = Stump{Feature: f, Threshold: thr, Left: 1, Right: -1}
			}
		}
	}
	return best, math.Max(bestErr, 0)
}
