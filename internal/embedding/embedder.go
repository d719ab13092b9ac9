package embedding

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Embedder converts a patient's serialised text into a dense vector.
// Implementations are frozen: there is no fitting step, and equal text
// always yields an equal vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Normalize scales v to unit L2 norm in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float64) []float64 {
	n := floats.Norm(v, 2)
	if n == 0 || math.IsNaN(n) {
		return v
	}
	floats.Scale(1/n, v)
	return v
}
