package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"glucosense/internal/domain"
)

// DataConfig locates the training corpus.
type DataConfig struct {
	Path string `yaml:"path"`
}

// RetrievalConfig tunes similar-case retrieval.
type RetrievalConfig struct {
	K             int      `yaml:"k"`
	PoolSize      int      `yaml:"pool_size"`
	DisplayFields []string `yaml:"display_fields"`
	Workers       int      `yaml:"workers"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ONNXEmbedderConfig locates a sentence-transformer ONNX export.
type ONNXEmbedderConfig struct {
	ModelPath   string `yaml:"model_path"`
	VocabPath   string `yaml:"vocab_path"`
	LibraryPath string `yaml:"library_path"`
	Dimension   int    `yaml:"dimension"`
	MaxLength   int    `yaml:"max_length"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	ONNX      *ONNXEmbedderConfig   `yaml:"onnx,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PostgresConfig contains connection details for a pgvector store.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// CacheConfig enables the Redis explanation cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// ExplainerConfig selects the generative backend and models.
type ExplainerConfig struct {
	Type              string      `yaml:"type"`
	Model             string      `yaml:"model"`
	FallbackModel     string      `yaml:"fallback_model"`
	BaseURL           string      `yaml:"base_url"`
	TimeoutSecs       int         `yaml:"timeout_secs"`
	RequestsPerSecond float64     `yaml:"requests_per_second"`
	Cache             CacheConfig `yaml:"cache"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Data        DataConfig        `yaml:"data"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Explainer   ExplainerConfig   `yaml:"explainer"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/glucosense/config.yaml.
// If neither exists, it writes defaults to ~/.config/glucosense/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "glucosense", "config.yaml"), nil
}

// Default location of the all-MiniLM-L6-v2 ONNX export.
const (
	DefaultONNXModelPath = "models/all-MiniLM-L6-v2/model.onnx"
	DefaultONNXVocabPath = "models/all-MiniLM-L6-v2/vocab.txt"
)

// defaultEmbedderType picks the pretrained ONNX embedder when its model
// files are present and the frozen hashing embedder otherwise.
func defaultEmbedderType() string {
	for _, p := range []string{DefaultONNXModelPath, DefaultONNXVocabPath} {
		if _, err := os.Stat(p); err != nil {
			return "hashing"
		}
	}
	return "onnx"
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Data.Path == "" {
		cfg.Data.Path = "Diabetes_Final_Data_V2.csv"
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 5
	}
	if cfg.Retrieval.PoolSize == 0 {
		cfg.Retrieval.PoolSize = 50
	}
	if len(cfg.Retrieval.DisplayFields) == 0 {
		cfg.Retrieval.DisplayFields = append([]string(nil), domain.DefaultDisplayFields...)
	}
	if cfg.Retrieval.Workers == 0 {
		cfg.Retrieval.Workers = 4
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = defaultEmbedderType()
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1/"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Embedder.Type == "onnx" {
		if cfg.Embedder.ONNX == nil {
			cfg.Embedder.ONNX = &ONNXEmbedderConfig{}
		}
		if cfg.Embedder.ONNX.ModelPath == "" {
			cfg.Embedder.ONNX.ModelPath = DefaultONNXModelPath
		}
		if cfg.Embedder.ONNX.VocabPath == "" {
			cfg.Embedder.ONNX.VocabPath = DefaultONNXVocabPath
		}
		if cfg.Embedder.ONNX.Dimension == 0 {
			cfg.Embedder.ONNX.Dimension = 384
		}
		if cfg.Embedder.ONNX.MaxLength == 0 {
			cfg.Embedder.ONNX.MaxLength = 128
		}
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "patients"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.VectorStore.Type == "pgvector" {
		if cfg.VectorStore.Postgres == nil {
			cfg.VectorStore.Postgres = &PostgresConfig{}
		}
		if cfg.VectorStore.Postgres.Table == "" {
			cfg.VectorStore.Postgres.Table = "patient_embeddings"
		}
	}
	if cfg.Explainer.Type == "" {
		cfg.Explainer.Type = "gemini"
	}
	if cfg.Explainer.Model == "" {
		cfg.Explainer.Model = "gemini-1.5-flash"
	}
	if cfg.Explainer.FallbackModel == "" && cfg.Explainer.Type == "gemini" {
		cfg.Explainer.FallbackModel = "gemini-pro"
	}
	if cfg.Explainer.TimeoutSecs == 0 {
		cfg.Explainer.TimeoutSecs = 30
	}
	if cfg.Explainer.Cache.TTLSecs == 0 {
		cfg.Explainer.Cache.TTLSecs = 3600
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = "development"
	}
}
