package vectorstore

import (
	"context"
	"sort"

	"glucosense/internal/domain"
)

// Storage persists corpus embeddings keyed by row and answers exact
// Euclidean nearest-neighbour queries.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, rows []int, vectors [][]float64) error
	// Search returns at most n hits in ascending distance, ties broken by
	// ascending row.
	Search(ctx context.Context, vector []float64, n int) ([]domain.Neighbor, error)
	Len() int
	Clear(ctx context.Context) error
}

// SortNeighbors orders hits by distance then row.
func SortNeighbors(hits []domain.Neighbor) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Row < hits[j].Row
	})
}
