package explain

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"glucosense/internal/domain"
)

// OpenAI generates text with an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds a chat client. baseURL may be empty.
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}, nil
}

func (o *OpenAI) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		return "", &domain.ExternalServiceError{Service: "openai", Model: model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.ExternalServiceError{Service: "openai", Model: model, Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}
