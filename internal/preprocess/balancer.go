package preprocess

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SMOTE oversamples the minority class by interpolating between a minority
// row and one of its K nearest minority neighbours. It holds no fitted state
// and is never applied at inference time.
type SMOTE struct {
	K    int
	Seed int64
}

// NewSMOTE returns a balancer with five neighbours.
func NewSMOTE(seed int64) SMOTE { return SMOTE{K: 5, Seed: seed} }

// Resample returns the original rows followed by synthetic minority rows so
// that both classes have the same count.
func (s SMOTE) Resample(x [][]float64, y []int) ([][]float64, []int, error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("smote: %d rows but %d labels", len(x), len(y))
	}
	var pos, neg []int
	for i, label := range y {
		if label == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	outX := make([][]float64, len(x))
	copy(outX, x)
	outY := make([]int, len(y))
	copy(outY, y)

	minority, minorityLabel := pos, 1
	deficit := len(neg) - len(pos)
	if deficit < 0 {
		minority, minorityLabel = neg, 0
		deficit = -deficit
	}
	if deficit == 0 {
		return outX, outY, nil
	}
	if len(minority) < 2 {
		return nil, nil, fmt.Errorf("smote: minority class has %d rows, need at least 2", len(minority))
	}
	k := s.K
	if k <= 0 {
		k = 5
	}
	if k > len(minority)-1 {
		k = len(minority) - 1
	}

	neighbours := make([][]int, len(minority))
	for a := range minority {
		neighbours[a] = nearestWithin(x, minority, a, k)
	}

	rng := rand.New(rand.NewSource(s.Seed))
	for n := 0; n < deficit; n++ {
		a := rng.Intn(len(minority))
		b := neighbours[a][rng.Intn(k)]
		base, other := x[minority[a]], x[minority[b]]
		gap := rng.Float64()

		synth := make([]float64, len(base))
		copy(synth, other)
		floats.Sub(synth, base)
		floats.Scale(gap, synth)
		floats.Add(synth, base)

		outX = append(outX, synth)
		outY = append(outY, minorityLabel)
	}
	return outX, outY, nil
}

// nearestWithin returns positions (into members) of the k members closest to
// members[self], ties broken by position.
func nearestWithin(x [][]float64, members []int, self, k int) []int {
	type cand struct {
		pos  int
		dist float64
	}
	cands := make([]cand, 0, len(members)-1)
	for p, idx := range members {
		if p == self {
			continue
		}
		cands = append(cands, cand{pos: p, dist: floats.Distance(x[members[self]], x[idx], 2)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = cands[i].pos
	}
	return out
}
