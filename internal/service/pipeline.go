package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"glucosense/internal/dataset"
	"glucosense/internal/domain"
	"glucosense/internal/embedding"
	"glucosense/internal/ensemble"
	"glucosense/internal/explain"
	"glucosense/internal/metrics"
	"glucosense/internal/preprocess"
	"glucosense/internal/retrieval"
	"glucosense/internal/selection"
	"glucosense/internal/vectorstore"
)

// State is the pipeline lifecycle stage.
type State int32

const (
	Untrained State = iota
	Trained
	Indexed
)

func (s State) String() string {
	switch s {
	case Trained:
		return "trained"
	case Indexed:
		return "indexed"
	default:
		return "untrained"
	}
}

const (
	testFraction = 0.2
	splitSeed    = 42
	smoteSeed    = 42
)

// Explainer turns a grounded request into text. *explain.Service satisfies it.
type Explainer interface {
	Explain(ctx context.Context, req explain.Request) explain.Explanation
}

// Options configures a Pipeline.
type Options struct {
	DataPath      string
	K             int
	PoolSize      int
	Workers       int
	DisplayFields []string
	Stack         ensemble.StackConfig
}

// Report summarises the last training run.
type Report struct {
	Rows         int                `json:"rows"`
	BalancedRows int                `json:"balanced_rows"`
	TrainRows    int                `json:"train_rows"`
	TestRows     int                `json:"test_rows"`
	Selected     []string           `json:"selected_features"`
	Importance   map[string]float64 `json:"importance"`
	Evaluation   ensemble.Report    `json:"evaluation"`
	Duration     time.Duration      `json:"duration"`
}

// model is the fitted, read-only inference path.
type model struct {
	normalizer *preprocess.Normalizer
	selector   *selection.Selector
	stack      *ensemble.Stack
	corpus     *domain.Corpus
	report     Report
}

// Score runs records through normalisation, selection and the ensemble in
// one batch.
func (m *model) Score(_ context.Context, records []domain.PatientRecord) ([]float64, error) {
	if len(records) == 0 {
		return nil, nil
	}
	x := make([][]float64, len(records))
	for i, r := range records {
		x[i] = r.Vector()
	}
	scaled, err := m.normalizer.Transform(x)
	if err != nil {
		return nil, err
	}
	sel, err := m.selector.Transform(scaled)
	if err != nil {
		return nil, err
	}
	return m.stack.PredictProba(sel)
}

type snapshot struct {
	state     State
	model     *model
	retriever *retrieval.Retriever
}

// Pipeline trains the classifier, indexes the corpus and serves
// predictions. Training and indexing are serialised; predictions read an
// immutable snapshot without locking.
type Pipeline struct {
	opts      Options
	embedder  embedding.Embedder
	store     vectorstore.Storage
	explainer Explainer
	metrics   *metrics.Metrics
	log       *zap.Logger
	load      func(path string) (*domain.Corpus, error)

	mu         sync.Mutex
	storeReady bool // store.Init has succeeded at least once
	snap       atomic.Pointer[snapshot]
}

// New assembles a pipeline. explainer, m and log may be nil.
func New(opts Options, e embedding.Embedder, store vectorstore.Storage, explainer Explainer, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	if opts.K <= 0 {
		opts.K = 5
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = retrieval.DefaultPoolSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if len(opts.DisplayFields) == 0 {
		opts.DisplayFields = domain.DefaultDisplayFields
	}
	if opts.Stack.Folds == 0 {
		opts.Stack = ensemble.DefaultStackConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		opts:      opts,
		embedder:  e,
		store:     store,
		explainer: explainer,
		metrics:   m,
		log:       log,
		load:      dataset.LoadCSV,
	}
	p.snap.Store(&snapshot{state: Untrained})
	return p
}

// State returns the current lifecycle stage.
func (p *Pipeline) State() State { return p.snap.Load().state }

// DisplayFields returns the configured similar-case columns.
func (p *Pipeline) DisplayFields() []string { return p.opts.DisplayFields }

// DefaultK is the configured number of similar cases.
func (p *Pipeline) DefaultK() int { return p.opts.K }

// LoadAndTrain reads the corpus from the configured path and trains on it.
func (p *Pipeline) LoadAndTrain(ctx context.Context) (Report, error) {
	corpus, err := p.load(p.opts.DataPath)
	if err != nil {
		return Report{}, err
	}
	return p.Train(ctx, corpus)
}

// Train fits every stage on corpus. A successful retrain leaves the
// pipeline Trained with an empty index.
func (p *Pipeline) Train(ctx context.Context, corpus *domain.Corpus) (Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if corpus.Len() == 0 {
		return Report{}, fmt.Errorf("train: %w: corpus is empty", domain.ErrDataNotFound)
	}
	start := time.Now()
	x, y := corpus.Matrix(), corpus.Labels()

	norm := &preprocess.Normalizer{}
	scaled, err := norm.FitTransform(x)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	bx, by, err := preprocess.NewSMOTE(smoteSeed).Resample(scaled, y)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	split, err := preprocess.StratifiedSplit(bx, by, testFraction, splitSeed)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	p.log.Info("training data prepared",
		zap.Int("rows", corpus.Len()),
		zap.Int("positives", corpus.Positives()),
		zap.Int("balanced_rows", len(bx)),
		zap.Int("train_rows", len(split.TrainX)),
		zap.Int("test_rows", len(split.TestX)))

	sel := selection.New()
	if err := sel.Fit(split.TrainX, split.TrainY); err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	trainX, err := sel.Transform(split.TrainX)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	testX, err := sel.Transform(split.TestX)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	p.log.Info("features selected", zap.Strings("features", sel.KeptNames()))

	stack := ensemble.NewStack(p.opts.Stack, p.log)
	if err := stack.Fit(ctx, trainX, split.TrainY); err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	proba, err := stack.PredictProba(testX)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	eval, err := ensemble.Evaluate(split.TestY, proba)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}

	importance := make(map[string]float64, len(sel.Importance))
	for f, v := range sel.Importance {
		importance[domain.FeatureNames[f]] = v
	}
	report := Report{
		Rows:         corpus.Len(),
		BalancedRows: len(bx),
		TrainRows:    len(split.TrainX),
		TestRows:     len(split.TestX),
		Selected:     sel.KeptNames(),
		Importance:   importance,
		Evaluation:   eval,
		Duration:     time.Since(start),
	}
	p.log.Info("ensemble trained",
		zap.Float64("accuracy", eval.Accuracy),
		zap.Float64("roc_auc", eval.AUC),
		zap.Duration("duration", report.Duration))

	if p.storeReady {
		if err := p.store.Clear(ctx); err != nil {
			return Report{}, fmt.Errorf("train: reset index: %w", err)
		}
	}
	p.snap.Store(&snapshot{
		state: Trained,
		model: &model{normalizer: norm, selector: sel, stack: stack, corpus: corpus, report: report},
	})
	p.metrics.ObserveTraining(report.Duration)
	p.metrics.SetIndexSize(0)
	return report, nil
}

// BuildIndex embeds every corpus row and loads the similarity index.
func (p *Pipeline) BuildIndex(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.snap.Load()
	if cur.state < Trained {
		return &domain.StateError{Op: "build index", Have: cur.state.String(), Need: Trained.String()}
	}
	corpus := cur.model.corpus
	records := corpus.Records()
	vectors := make([][]float64, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range records {
		i := i
		g.Go(func() error {
			v, err := p.embedder.Embed(gctx, embedding.Serialize(records[i]))
			if err != nil {
				return fmt.Errorf("embed row %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	// Readers must not see the store while it is rebuilt.
	if cur.state == Indexed {
		p.snap.Store(&snapshot{state: Trained, model: cur.model})
		p.metrics.SetIndexSize(0)
	}
	if err := p.store.Init(ctx, p.embedder.Dimension()); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	p.storeReady = true
	rows := make([]int, len(records))
	for i := range rows {
		rows[i] = i
	}
	const batch = 256
	for start := 0; start < len(rows); start += batch {
		end := start + batch
		if end > len(rows) {
			end = len(rows)
		}
		if err := p.store.Upsert(ctx, rows[start:end], vectors[start:end]); err != nil {
			return fmt.Errorf("build index: %w", err)
		}
	}

	r := retrieval.New(p.embedder, p.store, corpus, cur.model, p.opts.PoolSize, p.log)
	p.snap.Store(&snapshot{state: Indexed, model: cur.model, retriever: r})
	p.metrics.SetIndexSize(corpus.Len())
	p.log.Info("similarity index built",
		zap.String("embedder", p.embedder.Name()),
		zap.Int("rows", corpus.Len()),
		zap.Int("dimension", p.embedder.Dimension()))
	return nil
}

func (p *Pipeline) indexed(op string) (*snapshot, error) {
	cur := p.snap.Load()
	if cur.state != Indexed {
		return nil, &domain.StateError{Op: op, Have: cur.state.String(), Need: Indexed.String()}
	}
	return cur, nil
}

// Predict classifies record and attaches k similar cases; k <= 0 uses the
// configured default.
func (p *Pipeline) Predict(ctx context.Context, record domain.PatientRecord, k int) (domain.Result, error) {
	cur, err := p.indexed("predict")
	if err != nil {
		return domain.Result{}, err
	}
	if k <= 0 {
		k = p.opts.K
	}
	start := time.Now()
	proba, err := cur.model.Score(ctx, []domain.PatientRecord{record})
	if err != nil {
		return domain.Result{}, fmt.Errorf("predict: %w", err)
	}
	pred := domain.NewPrediction(proba[0])

	cases, tier, err := cur.retriever.Retrieve(ctx, record, pred, k)
	if err != nil {
		return domain.Result{}, fmt.Errorf("predict: %w", err)
	}
	p.metrics.ObservePrediction(pred.Label, time.Since(start))
	p.metrics.ObserveTier(string(tier))
	return domain.Result{Prediction: pred, SimilarCases: cases, Tier: tier}, nil
}

// PredictMap validates a raw key-value record and predicts it.
func (p *Pipeline) PredictMap(ctx context.Context, fields map[string]any, k int) (domain.Result, error) {
	record, err := domain.ParseRecord(fields)
	if err != nil {
		return domain.Result{}, err
	}
	return p.Predict(ctx, record, k)
}

// Search returns the n corpus rows whose embeddings are nearest to record.
func (p *Pipeline) Search(ctx context.Context, record domain.PatientRecord, n int) ([]domain.Neighbor, error) {
	cur, err := p.indexed("search")
	if err != nil {
		return nil, err
	}
	return cur.retriever.Search(ctx, record, n)
}

// Explain predicts record and asks the explainer for a grounded narrative.
// A failed explanation is reported on the result, never as an error.
func (p *Pipeline) Explain(ctx context.Context, record domain.PatientRecord, k int) (domain.Result, error) {
	res, err := p.Predict(ctx, record, k)
	if err != nil {
		return res, err
	}
	if p.explainer == nil {
		res.ExplanationError = "explainer not configured"
		p.metrics.ObserveExplanation("failure")
		return res, nil
	}
	out := p.explainer.Explain(ctx, explain.Request{
		PatientText: embedding.Serialize(record),
		Prediction:  res.Prediction,
		Cases:       res.SimilarCases,
		K:           len(res.SimilarCases),
	})
	switch {
	case out.OK() && out.Cached:
		p.metrics.ObserveExplanation("cached")
	case out.OK():
		p.metrics.ObserveExplanation("success")
	default:
		p.metrics.ObserveExplanation("failure")
	}
	res.Explanation, res.ExplanationModel, res.ExplanationError = out.Text, out.Model, out.Reason
	return res, nil
}

// Report returns the last training report.
func (p *Pipeline) Report() (Report, error) {
	cur := p.snap.Load()
	if cur.state < Trained {
		return Report{}, &domain.StateError{Op: "report", Have: cur.state.String(), Need: Trained.String()}
	}
	return cur.model.report, nil
}
