package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"glucosense/internal/domain"
	"glucosense/internal/embedding"
	"glucosense/internal/vectorstore"
)

// DefaultPoolSize is how many neighbours are fetched before filtering.
const DefaultPoolSize = 50

// Scorer returns the classifier's positive-class probability for each
// record, in one batch.
type Scorer interface {
	Score(ctx context.Context, records []domain.PatientRecord) ([]float64, error)
}

// Retriever searches the corpus index and filters the neighbour pool.
type Retriever struct {
	embedder embedding.Embedder
	store    vectorstore.Storage
	corpus   *domain.Corpus
	scorer   Scorer
	poolSize int
	log      *zap.Logger
}

// New builds a retriever over an index of corpus rows.
func New(e embedding.Embedder, store vectorstore.Storage, corpus *domain.Corpus, scorer Scorer, poolSize int, log *zap.Logger) *Retriever {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{embedder: e, store: store, corpus: corpus, scorer: scorer, poolSize: poolSize, log: log}
}

// Search embeds record and returns its n nearest corpus rows.
func (r *Retriever) Search(ctx context.Context, record domain.PatientRecord, n int) ([]domain.Neighbor, error) {
	vec, err := r.embedder.Embed(ctx, embedding.Serialize(record))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.store.Search(ctx, vec, n)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	for _, h := range hits {
		if h.Row < 0 || h.Row >= r.corpus.Len() {
			return nil, fmt.Errorf("search index: row %d outside corpus of %d", h.Row, r.corpus.Len())
		}
	}
	return hits, nil
}

// Retrieve returns k similar cases for a query and the tier that chose
// them. The pool is never smaller than k.
func (r *Retriever) Retrieve(ctx context.Context, record domain.PatientRecord, pred domain.Prediction, k int) ([]domain.SimilarCase, domain.Tier, error) {
	if k <= 0 {
		return nil, "", fmt.Errorf("retrieve: k must be positive, got %d", k)
	}
	pool := r.poolSize
	if k > pool {
		pool = k
	}
	hits, err := r.Search(ctx, record, pool)
	if err != nil {
		return nil, "", err
	}

	records := make([]domain.PatientRecord, len(hits))
	for i, h := range hits {
		records[i] = r.corpus.Row(h.Row).Record
	}
	proba, err := r.scorer.Score(ctx, records)
	if err != nil {
		return nil, "", fmt.Errorf("re-score neighbours: %w", err)
	}

	cases := make([]domain.SimilarCase, len(hits))
	for i, h := range hits {
		row := r.corpus.Row(h.Row)
		cases[i] = domain.SimilarCase{
			Row:                  h.Row,
			Distance:             h.Distance,
			Record:               row.Record,
			Diabetic:             row.Diabetic,
			PredictedProbability: proba[i],
			PredictedLabel:       domain.LabelFor(proba[i]),
		}
	}
	picked, tier := Select(cases, pred.Label, k)
	r.log.Debug("similar cases selected",
		zap.Int("pool", len(cases)), zap.Int("k", k), zap.String("tier", string(tier)))
	return picked, tier, nil
}
