// Package explain asks a generative model to explain a prediction in plain
// language, grounded on the retrieved similar cases.
package explain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"glucosense/internal/domain"
)

// Generator produces text from a prompt with the named model.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Request carries everything the prompt is grounded on.
type Request struct {
	PatientText string
	Prediction  domain.Prediction
	Cases       []domain.SimilarCase
	K           int
}

// Explanation is the outcome of an explanation attempt. Text is empty when
// every model failed; Reason then says why.
type Explanation struct {
	Text   string `json:"text,omitempty"`
	Model  string `json:"model,omitempty"`
	Reason string `json:"reason,omitempty"`
	Cached bool   `json:"cached,omitempty"`
}

// OK reports whether any model produced text.
func (e Explanation) OK() bool { return e.Text != "" }

// Config tunes a Service.
type Config struct {
	Model         string
	FallbackModel string
	Timeout       time.Duration
	CacheTTL      time.Duration
}

// Service tries the primary model and then the fallback model once.
type Service struct {
	gen     Generator
	cfg     Config
	limiter *rate.Limiter
	cache   Cache
	log     *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithLimiter throttles outbound generation calls.
func WithLimiter(l *rate.Limiter) Option { return func(s *Service) { s.limiter = l } }

// WithCache memoises generated text by model and prompt.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService wraps gen.
func NewService(gen Generator, cfg Config, opts ...Option) *Service {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	s := &Service{gen: gen, cfg: cfg, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Explain never fails: collaborator errors are logged and reported in the
// returned Explanation.
func (s *Service) Explain(ctx context.Context, req Request) Explanation {
	prompt := BuildPrompt(req)
	models := []string{s.cfg.Model}
	if s.cfg.FallbackModel != "" && s.cfg.FallbackModel != s.cfg.Model {
		models = append(models, s.cfg.FallbackModel)
	}

	var reasons []string
	for _, model := range models {
		text, cached, err := s.generate(ctx, model, prompt)
		if err == nil {
			return Explanation{Text: text, Model: model, Cached: cached}
		}
		s.log.Warn("explanation failed", zap.String("model", model), zap.Error(err))
		reasons = append(reasons, err.Error())
		if ctx.Err() != nil {
			break
		}
	}
	return Explanation{Reason: strings.Join(reasons, "; ")}
}

func (s *Service) generate(ctx context.Context, model, prompt string) (string, bool, error) {
	key := cacheKey(model, prompt)
	if s.cache != nil {
		text, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("explanation cache read failed", zap.Error(err))
		} else if ok {
			return text, true, nil
		}
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", false, &domain.ExternalServiceError{Service: "explainer", Model: model, Err: err}
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	text, err := s.gen.Generate(cctx, model, prompt)
	if err != nil {
		var ext *domain.ExternalServiceError
		if !errors.As(err, &ext) {
			err = &domain.ExternalServiceError{Service: "explainer", Model: model, Err: err}
		}
		return "", false, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false, &domain.ExternalServiceError{Service: "explainer", Model: model, Err: errors.New("empty response")}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, text, s.cfg.CacheTTL); err != nil {
			s.log.Warn("explanation cache write failed", zap.Error(err))
		}
	}
	return text, false, nil
}

func cacheKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return "glucosense:explain:" + hex.EncodeToString(sum[:])
}
