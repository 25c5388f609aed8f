package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// Defaults for local-model generation.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
)

// OllamaClient wraps the Ollama chat API for local-model fallback.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates an Ollama-backed client for the given host URL.
func NewOllamaClient(hostURL, model string) (*OllamaClient, error) {
	if hostURL == "" {
		hostURL = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}

	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host URL %q: %w", hostURL, err)
	}

	return &OllamaClient{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}, nil
}

// GenerateResponse implements Client.
func (o *OllamaClient) GenerateResponse(ctx context.Context, messages []Message, opts Options) (string, error) {
	ollamaMessages := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": opts.Temperature,
			"num_predict": maxTokensOrDefault(opts),
		},
	}

	var content string
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return content, nil
}

func (o *OllamaClient) Provider() string { return ProviderOllama }
