package ensemble

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"glucosense/internal/domain"
)

// Classifier is a binary probabilistic learner.
type Classifier interface {
	Fit(x [][]float64, y []int) error
	PredictProba(x [][]float64) ([]float64, error)
}

// Factory builds a fresh, unfitted Classifier.
type Factory func() Classifier

// StackConfig configures the stacked ensemble.
type StackConfig struct {
	Folds       int
	Seed        int64
	Passthrough bool
	Bases       []Factory
	Meta        BoosterParams
}

// DefaultStackConfig is AdaBoost and gradient boosting under a boosted meta
// learner, five folds, original features passed through.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		Folds:       5,
		Seed:        42,
		Passthrough: true,
		Bases: []Factory{
			func() Classifier { return NewAdaBoost(100) },
			func() Classifier {
				return NewBooster(BoosterParams{
					Rounds:         200,
					LearningRate:   0.05,
					MaxDepth:       6,
					Subsample:      0.9,
					Lambda:         1,
					MinChildWeight: 1,
					Seed:           42,
				})
			},
		},
		Meta: BoosterParams{
			Rounds:         300,
			LearningRate:   0.05,
			MaxDepth:       4,
			Subsample:      1,
			Lambda:         3,
			MinChildWeight: 1,
			Seed:           42,
		},
	}
}

// Stack is a stacked generalisation ensemble. Base learners are trained on
// out-of-fold predictions for the meta learner, then refit on all rows.
type Stack struct {
	cfg   StackConfig
	bases []Classifier
	meta  *Booster
	width int
	log   *zap.Logger
}

// NewStack returns an unfitted stack.
func NewStack(cfg StackConfig, log *zap.Logger) *Stack {
	if cfg.Folds < 2 {
		cfg.Folds = 5
	}
	if len(cfg.Bases) == 0 {
		cfg.Bases = DefaultStackConfig().Bases
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Stack{cfg: cfg, log: log}
}

// Fit trains the stack. Base learners for each fold run concurrently.
func (s *Stack) Fit(ctx context.Context, x [][]float64, y []int) error {
	if err := checkXY(x, y); err != nil {
		return fmt.Errorf("stack fit: %w", err)
	}
	n := len(x)
	nb := len(s.cfg.Bases)
	folds := StratifiedFolds(y, s.cfg.Folds, s.cfg.Seed)

	oof := make([][]float64, nb)
	for b := range oof {
		oof[b] = make([]float64, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for fi, holdout := range folds {
		if len(holdout) == 0 {
			continue
		}
		trainRows := complement(n, holdout)
		tx, ty := subset(x, y, trainRows)
		hx, _ := subset(x, y, holdout)
		for b, factory := range s.cfg.Bases {
			fi, b, factory, holdout := fi, b, factory, holdout
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				m := factory()
				if err := m.Fit(tx, ty); err != nil {
					return fmt.Errorf("stack fold %d base %d: %w", fi, b, err)
				}
				p, err := m.PredictProba(hx)
				if err != nil {
					return fmt.Errorf("stack fold %d base %d: %w", fi, b, err)
				}
				for i, r := range holdout {
					oof[b][r] = p[i]
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Debug("out-of-fold predictions ready", zap.Int("folds", len(folds)), zap.Int("bases", nb))

	bases := make([]Classifier, nb)
	g, gctx = errgroup.WithContext(ctx)
	for b, factory := range s.cfg.Bases {
		b, factory := b, factory
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m := factory()
			if err := m.Fit(x, y); err != nil {
				return fmt.Errorf("stack refit base %d: %w", b, err)
			}
			bases[b] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	meta := NewBooster(s.cfg.Meta)
	if err := meta.Fit(s.metaRows(oof, x), y); err != nil {
		return fmt.Errorf("stack meta: %w", err)
	}
	s.bases, s.meta, s.width = bases, meta, len(x[0])
	return nil
}

// Fitted reports whether Fit has completed.
func (s *Stack) Fitted() bool { return s != nil && s.meta.Fitted() }

// PredictProba returns the meta learner's positive-class probability.
func (s *Stack) PredictProba(x [][]float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("stack predict: %w", domain.ErrNotFitted)
	}
	for i, row := range x {
		if len(row) != s.width {
			return nil, fmt.Errorf("stack predict: row %d has %d features, want %d", i, len(row), s.width)
		}
	}
	level := make([][]float64, len(s.bases))
	for b, m := range s.bases {
		p, err := m.PredictProba(x)
		if err != nil {
			return nil, fmt.Errorf("stack predict base %d: %w", b, err)
		}
		level[b] = p
	}
	return s.meta.PredictProba(s.metaRows(level, x))
}

// Predict thresholds PredictProba into labels.
func (s *Stack) Predict(x [][]float64) ([]int, error) {
	proba, err := s.PredictProba(x)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		out[i] = domain.LabelFor(p)
	}
	return out, nil
}

func (s *Stack) metaRows(level [][]float64, x [][]float64) [][]float64 {
	rows := make([][]float64, len(x))
	for i := range x {
		row := make([]float64, 0, len(level)+len(x[i]))
		for b := range level {
			row = append(row, level[b][i])
		}
		if s.cfg.Passthrough {
			row = append(row, x[i]...)
		}
		rows[i] = row
	}
	return rows
}

// StratifiedFolds deals the shuffled rows of each class round-robin into k
// folds and returns each fold's sorted row indices.
func StratifiedFolds(y []int, k int, seed int64) [][]int {
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
	folds := make([][]int, k)
	next := 0
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, r := range idx {
			folds[next%k] = append(folds[next%k], r)
			next++
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

func complement(n int, rows []int) []int {
	skip := make(map[int]struct{}, len(rows))
	for _, r := range rows {
		skip[r] = struct{}{}
	}
	out := make([]int, 0, n-len(rows))
	for i := 0; i < n; i++ {
		if _, ok := skip[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func subset(x [][]float64, y []int, rows []int) ([][]float64, []int) {
	sx := make([][]float64, len(rows))
	sy := make([]int, len(rows))
	for i, r := range rows {
		sx[i], sy[i] = x[r], y[r]
	}
	return sx, sy
}
