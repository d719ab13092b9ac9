package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"glucosense/internal/domain"
	"glucosense/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant.
// It uses Euclid distance with exact search and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client

	mu   sync.Mutex
	rows map[int]struct{}
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "patients"
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		rows:       make(map[int]struct{}),
	}
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Euclid",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.rows = make(map[int]struct{})
	s.mu.Unlock()
	return nil
}

func (s *Storage) Upsert(ctx context.Context, rows []int, vectors [][]float64) error {
	if len(rows) != len(vectors) {
		return errors.New("rows and vectors length mismatch")
	}
	points := make([]map[string]any, len(rows))
	for i, r := range rows {
		if len(vectors[i]) != s.dimension {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(vectors[i]), s.dimension)
		}
		points[i] = map[string]any{
			"id":      r,
			"vector":  vectors[i],
			"payload": map[string]any{"row": r},
		}
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil); err != nil {
		return err
	}
	s.mu.Lock()
	for _, r := range rows {
		s.rows[r] = struct{}{}
	}
	s.mu.Unlock()
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float64, n int) ([]domain.Neighbor, error) {
	if n <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        n,
		"with_payload": false,
		"params":       map[string]any{"exact": true},
	}
	var resp struct {
		Result []struct {
			ID    int     `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]domain.Neighbor, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.Neighbor{Row: r.ID, Distance: r.Score})
	}
	vectorstore.SortNeighbors(hits)
	return hits, nil
}

func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Clear drops the collection and recreates it empty.
func (s *Storage) Clear(ctx context.Context) error {
	if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil); err != nil {
		return err
	}
	if s.dimension == 0 {
		return nil
	}
	return s.Init(ctx, s.dimension)
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.ExternalServiceError{Service: "qdrant", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.ExternalServiceError{Service: "qdrant", Err: fmt.Errorf("%s %s failed: %s", method, url, resp.Status)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
