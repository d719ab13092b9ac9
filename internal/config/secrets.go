package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Secrets are credentials read from the environment, never from YAML.
type Secrets struct {
	GoogleAPIKey string `envconfig:"GOOGLE_API_KEY"`
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	QdrantAPIKey string `envconfig:"QDRANT_API_KEY"`
	PostgresDSN  string `envconfig:"GLUCOSENSE_PG_DSN"`
}

// LoadSecrets reads an optional .env file and then the process environment.
func LoadSecrets() (*Secrets, error) {
	_ = godotenv.Load()

	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &s, nil
}
