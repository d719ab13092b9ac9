package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"glucosense/internal/config"
	"glucosense/internal/embedding"
	"glucosense/internal/embedding/hashing"
	"glucosense/internal/embedding/onnx"
	"glucosense/internal/embedding/openai"
	"glucosense/internal/explain"
	"glucosense/internal/logger"
	"glucosense/internal/metrics"
	"glucosense/internal/service"
	"glucosense/internal/vectorstore"
	"glucosense/internal/vectorstore/memory"
	"glucosense/internal/vectorstore/pgvector"
	"glucosense/internal/vectorstore/qdrant"
)

// app holds the assembled process components.
type app struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	registry *prometheus.Registry
	pipeline *service.Pipeline
	closers  []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

// build assembles every component named in cfg.
func build(ctx context.Context, cfg *config.AppConfig, logLevel string) (*app, error) {
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	log, err := logger.New(logLevel, cfg.Log.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	emb, err := a.buildEmbedder(secrets)
	if err != nil {
		a.Close()
		return nil, err
	}
	st, err := a.buildStore(ctx, secrets)
	if err != nil {
		a.Close()
		return nil, err
	}
	exp := a.buildExplainer(ctx, secrets)

	var explainer service.Explainer
	if exp != nil {
		explainer = exp
	}
	a.pipeline = service.New(service.Options{
		DataPath:      cfg.Data.Path,
		K:             cfg.Retrieval.K,
		PoolSize:      cfg.Retrieval.PoolSize,
		Workers:       cfg.Retrieval.Workers,
		DisplayFields: cfg.Retrieval.DisplayFields,
	}, emb, st, explainer, m, log)
	return a, nil
}

func (a *app) buildEmbedder(secrets *config.Secrets) (embedding.Embedder, error) {
	cfg := a.cfg.Embedder
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKey:    secrets.OpenAIAPIKey,
			Model:     cfg.OpenAI.Model,
			Dimension: cfg.OpenAI.Dimension,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	case "onnx":
		if cfg.ONNX == nil {
			return nil, fmt.Errorf("onnx embedder config missing")
		}
		e, err := onnx.New(onnx.Config{
			ModelPath:   cfg.ONNX.ModelPath,
			VocabPath:   cfg.ONNX.VocabPath,
			LibraryPath: cfg.ONNX.LibraryPath,
			Dimension:   cfg.ONNX.Dimension,
			MaxLength:   cfg.ONNX.MaxLength,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx embedder init failed: %w", err)
		}
		a.closers = append(a.closers, e)
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func (a *app) buildStore(ctx context.Context, secrets *config.Secrets) (vectorstore.Storage, error) {
	cfg := a.cfg.VectorStore
	switch cfg.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     secrets.QdrantAPIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "pgvector":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres config missing")
		}
		dsn := cfg.Postgres.DSN
		if secrets.PostgresDSN != "" {
			dsn = secrets.PostgresDSN
		}
		db, err := pgvector.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("pgvector connect failed: %w", err)
		}
		a.closers = append(a.closers, db)
		return pgvector.NewStorage(db, cfg.Postgres.Table)
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

// buildExplainer returns nil when no generator can be built; the pipeline
// then reports explanations as unavailable.
func (a *app) buildExplainer(ctx context.Context, secrets *config.Secrets) *explain.Service {
	cfg := a.cfg.Explainer
	var (
		gen explain.Generator
		err error
	)
	switch cfg.Type {
	case "gemini", "":
		gen, err = explain.NewGemini(ctx, secrets.GoogleAPIKey)
	case "openai":
		gen, err = explain.NewOpenAI(secrets.OpenAIAPIKey, cfg.BaseURL)
	case "none":
		return nil
	default:
		err = fmt.Errorf("unknown explainer: %s", cfg.Type)
	}
	if err != nil {
		a.log.Warn("explainer disabled", zap.String("type", cfg.Type), zap.Error(err))
		return nil
	}

	opts := []explain.Option{explain.WithLogger(a.log)}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, explain.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)))
	}
	if cfg.Cache.RedisURL != "" {
		cache, err := explain.NewRedisCache(ctx, cfg.Cache.RedisURL)
		if err != nil {
			a.log.Warn("explanation cache disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, cache)
			opts = append(opts, explain.WithCache(cache))
		}
	}
	return explain.NewService(gen, explain.Config{
		Model:         cfg.Model,
		FallbackModel: cfg.FallbackModel,
		Timeout:       time.Duration(cfg.TimeoutSecs) * time.Second,
		CacheTTL:      time.Duration(cfg.Cache.TTLSecs) * time.Second,
	}, opts...)
}
