package ensemble

import (
	"sort"
)

// rtEps is the minimum loss reduction that justifies a split.
const rtEps = 1e-6

// treeNode is one node of a regression tree. Leaves carry the (already
// shrunk) output weight; internal nodes route rows with
// value < Threshold to Left.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Weight    float64 `json:"weight"`
}

// Tree is a fitted regression tree stored as a flat node slice; node 0 is
// the root.
type Tree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *Tree) predict(row []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Weight
		}
		if row[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeParams struct {
	maxDepth       int
	lambda         float64
	gamma          float64
	minChildWeight float64
	eta            float64
}

// treeBuilder grows one tree by exact greedy search on second-order
// gradient statistics.
type treeBuilder struct {
	x      [][]float64
	grad   []float64
	hess   []float64
	params treeParams
	tree   *Tree
	gain   []float64
	splits []int
}

func newTreeBuilder(x [][]float64, grad, hess []float64, p treeParams, gain []float64, splits []int) *treeBuilder {
	return &treeBuilder{x: x, grad: grad, hess: hess, params: p, tree: &Tree{}, gain: gain, splits: splits}
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func (b *treeBuilder) build(rows []int) *Tree {
	b.grow(rows, 0)
	return b.tree
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	id := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, treeNode{})

	g, h := b.sums(rows)
	if depth < b.params.maxDepth && len(rows) > 1 {
		if s, ok := b.bestSplit(rows, g, h); ok {
			b.gain[s.feature] += s.gain
			b.splits[s.feature]++
			left := b.grow(s.left, depth+1)
			right := b.grow(s.right, depth+1)
			b.tree.Nodes[id] = treeNode{Feature: s.feature, Threshold: s.threshold, Left: left, Right: right}
			return id
		}
	}
	b.tree.Nodes[id] = treeNode{Leaf: true, Weight: b.params.eta * leafWeight(g, h, b.params.lambda)}
	return id
}

func (b *treeBuilder) sums(rows []int) (g, h float64) {
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}
	return g, h
}

func (b *treeBuilder) bestSplit(rows []int, g, h float64) (split, bool) {
	lambda := b.params.lambda
	parent := g * g / (h + lambda)
	best := split{gain: rtEps}
	found := false
	bestPos := -1
	var bestOrder []int

	order := make([]int, len(rows))
	nFeatures := len(b.x[rows[0]])
	for f := 0; f < nFeatures; f++ {
		copy(order, rows)
		sort.SliceStable(order, func(i, j int) bool { return b.x[order[i]][f] < b.x[order[j]][f] })

		var gl, hl float64
		for i := 0; i < len(order)-1; i++ {
			r := order[i]
			gl += b.grad[r]
			hl += b.hess[r]
			cur, next := b.x[r][f], b.x[order[i+1]][f]
			if cur == next {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.params.minChildWeight || hr < b.params.minChildWeight {
				continue
			}
			gain := 0.5*(gl*gl/(hl+lambda)+gr*gr/(hr+lambda)-parent) - b.params.gamma
			if gain > best.gain {
				best = split{feature: f, threshold: (cur + next) / 2, gain: gain}
				bestPos = i + 1
				bestOrder = append(bestOrder[:0], order...)
				found = true
			}
		}
	}
	if !found {
		return split{}, false
	}
	best.left = append([]int(nil), bestOrder[:bestPos]...)
	best.right = append([]int(nil), bestOrder[bestPos:]...)
	return best, true
}

func leafWeight(g, h, lambda float64) float64 {
	return -g / (h + lambda)
}
