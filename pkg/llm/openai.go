package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-5"

// OpenAIClient wraps the official OpenAI SDK using the Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-backed client.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// GenerateResponse implements Client. The Responses API takes a single
// input string, so the conversation is flattened with role prefixes.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, messages []Message, opts Options) (string, error) {
	var input string
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case RoleSystem:
			input += fmt.Sprintf("System: %s\n\n", msg.Content)
		case RoleAssistant:
			input += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		case RoleUser:
			input += msg.Content + "\n\n"
		}
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokensOrDefault(opts))),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses API failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from openai responses API")
	}

	return resp.OutputText(), nil
}

func (c *OpenAIClient) Provider() string { return ProviderOpenAI }
