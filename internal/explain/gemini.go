package explain

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"glucosense/internal/domain"
)

// Gemini generates text with the Gemini API.
type Gemini struct {
	client *genai.Client
}

// NewGemini builds a Gemini client from an explicit API key.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "gemini", Err: err}
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", &domain.ExternalServiceError{Service: "gemini", Model: model, Err: err}
	}
	return resp.Text(), nil
}
