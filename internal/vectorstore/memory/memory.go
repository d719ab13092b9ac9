package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"glucosense/internal/domain"
	"glucosense/internal/vectorstore"
)

// Storage is an in-memory vector store using brute-force Euclidean distance.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	rows      []int
	vectors   [][]float64
}

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.rows = nil
	s.vectors = nil
	return nil
}

// Upsert replaces the vector of a row already present and appends new rows.
func (s *Storage) Upsert(_ context.Context, rows []int, vectors [][]float64) error {
	if len(rows) != len(vectors) {
		return errors.New("rows and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), s.dimension)
		}
	}
	pos := make(map[int]int, len(s.rows))
	for i, r := range s.rows {
		pos[r] = i
	}
	for i, r := range rows {
		v := append([]float64(nil), vectors[i]...)
		if at, ok := pos[r]; ok {
			s.vectors[at] = v
			continue
		}
		pos[r] = len(s.rows)
		s.rows = append(s.rows, r)
		s.vectors = append(s.vectors, v)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float64, n int) ([]domain.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query has dimension %d, want %d", len(vector), s.dimension)
	}
	if n <= 0 {
		return nil, nil
	}
	hits := make([]domain.Neighbor, len(s.vectors))
	for i, v := range s.vectors {
		hits[i] = domain.Neighbor{Row: s.rows[i], Distance: floats.Distance(v, vector, 2)}
	}
	vectorstore.SortNeighbors(hits)
	if n > len(hits) {
		n = len(hits)
	}
	return hits[:n], nil
}

func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	s.vectors = nil
	return nil
}
