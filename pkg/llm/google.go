package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-pro"

// GeminiClient wraps the official Google genai SDK.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a Gemini-backed client. The underlying client is
// created lazily because genai.NewClient requires a context.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{apiKey: apiKey, model: model}
}

// GenerateResponse implements Client.
func (g *GeminiClient) GenerateResponse(ctx context.Context, messages []Message, opts Options) (string, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return "", fmt.Errorf("failed to create gemini client: %w", err)
		}
		g.client = client
	}

	systemPrompt, turns := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for i := range turns {
		msg := &turns[i]
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	//nolint:gosec // MaxTokens bounded well below int32 range
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokensOrDefault(opts)),
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		config.Temperature = &temp
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	if result == nil {
		return "", fmt.Errorf("empty response from gemini API")
	}
	return result.Text(), nil
}

func (g *GeminiClient) Provider() string { return ProviderGoogle }
