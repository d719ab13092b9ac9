package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"glucosense/internal/dataset"
	"glucosense/internal/domain"
	"glucosense/internal/embedding/hashing"
	"glucosense/internal/ensemble"
	"glucosense/internal/explain"
	"glucosense/internal/vectorstore/memory"
)

func scenarioPatient() map[string]any {
	return map[string]any{
		"gender": 0, "age": 52, "pulse_rate": 82, "systolic_bp": 135, "diastolic_bp": 90,
		"glucose": 155, "height": 1.60, "weight": 72, "bmi": 28.6,
		"family_diabetes": 1, "hypertensive": 1, "family_hypertension": 1,
		"cardiovascular_disease": 0, "stroke": 0,
	}
}

func fastStack() ensemble.StackConfig {
	cfg := ensemble.DefaultStackConfig()
	cfg.Folds = 3
	cfg.Bases = []ensemble.Factory{
		func() ensemble.Classifier { return ensemble.NewAdaBoost(20) },
		func() ensemble.Classifier {
			p := ensemble.DefaultBoosterParams()
			p.Rounds, p.MaxDepth = 20, 3
			return ensemble.NewBooster(p)
		},
	}
	cfg.Meta.Rounds, cfg.Meta.MaxDepth = 20, 3
	return cfg
}

func newPipeline(opts Options, explainer Explainer) *Pipeline {
	return New(opts, hashing.NewEmbedder(0), memory.NewStorage(), explainer, nil, nil)
}

func indexedPipeline(t *testing.T, n int, explainer Explainer) *Pipeline {
	t.Helper()
	p := newPipeline(Options{Stack: fastStack()}, explainer)
	_, err := p.Train(context.Background(), dataset.Synthetic(n, 7))
	require.NoError(t, err)
	require.NoError(t, p.BuildIndex(context.Background()))
	return p
}

func TestPipeline_Scenario200Records(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(Options{}, nil)

	report, err := p.Train(ctx, dataset.Synthetic(200, 42))
	require.NoError(t, err)
	assert.Equal(t, Trained, p.State())
	assert.Equal(t, 200, report.Rows)
	assert.Equal(t, report.BalancedRows, report.TrainRows+report.TestRows)
	assert.NotEmpty(t, report.Selected)
	assert.Len(t, report.Importance, domain.NumFeatures)
	assert.GreaterOrEqual(t, report.Evaluation.Accuracy, 0.6)

	require.NoError(t, p.BuildIndex(ctx))
	assert.Equal(t, Indexed, p.State())

	res, err := p.PredictMap(ctx, scenarioPatient(), 5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Probability, 0.0)
	assert.LessOrEqual(t, res.Probability, 1.0)
	assert.Equal(t, domain.LabelFor(res.Probability), res.Label)
	require.Len(t, res.SimilarCases, 5)
	for _, c := range res.SimilarCases {
		display := c.Display(p.DisplayFields())
		assert.Len(t, display, 8)
		for _, f := range domain.DefaultDisplayFields {
			assert.Contains(t, display, f)
		}
	}
}

func TestPipeline_PredictIsIdempotent(t *testing.T) {
	p := indexedPipeline(t, 80, nil)
	ctx := context.Background()
	rec, err := domain.ParseRecord(scenarioPatient())
	require.NoError(t, err)

	first, err := p.Predict(ctx, rec, 5)
	require.NoError(t, err)
	second, err := p.Predict(ctx, rec, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var wg sync.WaitGroup
	results := make([]domain.Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Predict(ctx, rec, 5)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, first, r)
	}
}

func TestPipeline_PreTrainingAccess(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(Options{Stack: fastStack()}, nil)
	rec, err := domain.ParseRecord(scenarioPatient())
	require.NoError(t, err)

	_, err = p.Predict(ctx, rec, 5)
	assert.True(t, errors.Is(err, domain.ErrNotTrained))
	_, err = p.Search(ctx, rec, 5)
	assert.True(t, errors.Is(err, domain.ErrNotTrained))
	_, err = p.Explain(ctx, rec, 5)
	assert.True(t, errors.Is(err, domain.ErrNotTrained))
	_, err = p.Report()
	assert.True(t, errors.Is(err, domain.ErrNotTrained))
	assert.True(t, errors.Is(p.BuildIndex(ctx), domain.ErrNotTrained))

	_, err = p.Train(ctx, dataset.Synthetic(40, 1))
	require.NoError(t, err)
	_, err = p.Predict(ctx, rec, 5)
	var se *domain.StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "indexed", se.Need)
	assert.Equal(t, "trained", se.Have)
}

func TestPipeline_RetrievalSizeLaw(t *testing.T) {
	p := indexedPipeline(t, 30, nil)
	ctx := context.Background()
	rec, err := domain.ParseRecord(scenarioPatient())
	require.NoError(t, err)

	for _, k := range []int{1, 5, 10, 30} {
		res, err := p.Predict(ctx, rec, k)
		require.NoError(t, err)
		assert.Len(t, res.SimilarCases, k, "k=%d", k)
	}
	res, err := p.Predict(ctx, rec, 45)
	require.NoError(t, err)
	assert.Len(t, res.SimilarCases, 30, "corpus smaller than k returns every row")

	hits, err := p.Search(ctx, rec, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 30)
}

type failingGenerator struct{ mock.Mock }

func (f *failingGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	args := f.Called(ctx, model, prompt)
	return args.String(0), args.Error(1)
}

func TestPipeline_ExplainWithFailingCollaborator(t *testing.T) {
	gen := new(failingGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("service unavailable"))
	svc := explain.NewService(gen, explain.Config{Model: "gemini-1.5-flash", FallbackModel: "gemini-pro"})
	p := indexedPipeline(t, 60, svc)

	rec, err := domain.ParseRecord(scenarioPatient())
	require.NoError(t, err)
	res, err := p.Explain(context.Background(), rec, 5)
	require.NoError(t, err)

	assert.False(t, math.IsNaN(res.Probability))
	assert.Len(t, res.SimilarCases, 5)
	assert.Empty(t, res.Explanation)
	assert.Contains(t, res.ExplanationError, "service unavailable")
	gen.AssertNumberOfCalls(t, "Generate", 2)
}

func TestPipeline_ExplainWithoutExplainer(t *testing.T) {
	p := indexedPipeline(t, 40, nil)
	rec, err := domain.ParseRecord(scenarioPatient())
	require.NoError(t, err)
	res, err := p.Explain(context.Background(), rec, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExplanationError)
}

func TestPipeline_DataNotFound(t *testing.T) {
	p := newPipeline(Options{DataPath: filepath.Join(t.TempDir(), "missing.csv")}, nil)
	_, err := p.LoadAndTrain(context.Background())
	assert.True(t, errors.Is(err, domain.ErrDataNotFound))
	assert.Equal(t, Untrained, p.State())
}

func TestPipeline_MissingFeature(t *testing.T) {
	p := indexedPipeline(t, 40, nil)
	fields := scenarioPatient()
	delete(fields, "glucose")
	_, err := p.PredictMap(context.Background(), fields, 5)
	var mf *domain.MissingFeatureError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{"glucose"}, mf.Fields)
}

func TestPipeline_RetrainClearsIndex(t *testing.T) {
	p := indexedPipeline(t, 40, nil)
	_, err := p.Train(context.Background(), dataset.Synthetic(50, 3))
	require.NoError(t, err)
	assert.Equal(t, Trained, p.State())
	assert.Equal(t, 0, p.store.Len())

	require.NoError(t, p.BuildIndex(context.Background()))
	assert.Equal(t, 50, p.store.Len())
}

// strictStore rejects Clear before Init, the way a table-backed store does
// on an empty database, and can be told to fail writes.
type strictStore struct {
	*memory.Storage
	mu         sync.Mutex
	inited     bool
	failUpsert bool
	calls      []string
}

func newStrictStore() *strictStore { return &strictStore{Storage: memory.NewStorage()} }

func (s *strictStore) Init(ctx context.Context, dim int) error {
	s.mu.Lock()
	s.inited = true
	s.calls = append(s.calls, "init")
	s.mu.Unlock()
	return s.Storage.Init(ctx, dim)
}

func (s *strictStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "clear")
	if !s.inited {
		return errors.New(`relation "patient_embeddings" does not exist`)
	}
	return s.Storage.Clear(ctx)
}

func (s *strictStore) Upsert(ctx context.Context, rows []int, vectors [][]float64) error {
	s.mu.Lock()
	fail := s.failUpsert
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.Storage.Upsert(ctx, rows, vectors)
}

func TestPipeline_TrainOnFreshStoreSkipsReset(t *testing.T) {
	ctx := context.Background()
	store := newStrictStore()
	p := New(Options{Stack: fastStack()}, hashing.NewEmbedder(0), store, nil, nil, nil)

	_, err := p.Train(ctx, dataset.Synthetic(40, 2))
	require.NoError(t, err)
	assert.Equal(t, Trained, p.State())
	assert.Empty(t, store.calls)

	require.NoError(t, p.BuildIndex(ctx))
	_, err = p.Train(ctx, dataset.Synthetic(40, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "clear"}, store.calls)
}

func TestPipeline_FailedRebuildLeavesPipelineTrained(t *testing.T) {
	ctx := context.Background()
	store := newStrictStore()
	p := New(Options{Stack: fastStack()}, hashing.NewEmbedder(0), store, nil, nil, nil)
	_, err := p.Train(ctx, dataset.Synthetic(40, 2))
	require.NoError(t, err)
	require.NoError(t, p.BuildIndex(ctx))
	require.Equal(t, Indexed, p.State())

	store.mu.Lock()
	store.failUpsert = true
	store.mu.Unlock()
	err = p.BuildIndex(ctx)
	require.Error(t, err)
	assert.Equal(t, Trained, p.State())

	rec, err := domain.ParseRecord(scenarioPatient())
	require.NoError(t, err)
	_, err = p.Predict(ctx, rec, 5)
	assert.True(t, errors.Is(err, domain.ErrNotTrained))

	store.mu.Lock()
	store.failUpsert = false
	store.mu.Unlock()
	require.NoError(t, p.BuildIndex(ctx))
	res, err := p.Predict(ctx, rec, 5)
	require.NoError(t, err)
	assert.Len(t, res.SimilarCases, 5)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "untrained", Untrained.String())
	assert.Equal(t, "trained", Trained.String())
	assert.Equal(t, "indexed", Indexed.String())
}
