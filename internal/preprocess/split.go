package preprocess

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split holds a train/test partition of a labelled matrix.
type Split struct {
	TrainX [][]float64
	TrainY []int
	TestX  [][]float64
	TestY  []int
}

// StratifiedSplit shuffles each class with seed and holds out testFraction
// of it, so both partitions keep the class ratio.
func StratifiedSplit(x [][]float64, y []int, testFraction float64, seed int64) (Split, error) {
	if len(x) != len(y) {
		return Split{}, fmt.Errorf("split: %d rows but %d labels", len(x), len(y))
	}
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, fmt.Errorf("split: test fraction %v out of (0,1)", testFraction)
	}
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(float64(len(idx)) * testFraction))
		if nTest == 0 && len(idx) > 1 {
			nTest = 1
		}
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(testIdx)

	var s Split
	for _, i := range trainIdx {
		s.TrainX = append(s.TrainX, x[i])
		s.TrainY = append(s.TrainY, y[i])
	}
	for _, i := range testIdx {
		s.TestX = append(s.TestX, x[i])
		s.TestY = append(s.TestY, y[i])
	}
	return s, nil
}
