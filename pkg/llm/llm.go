// Package llm defines the language-model client contract used by the
// planner and provides implementations backed by the official provider SDKs.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Role identifies who authored a message in a conversation.
type Role string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the human user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation.
type Message struct {
	Role    Role
	Content string
}

// Options configures a single generation request.
type Options struct {
	MaxTokens   int
	Temperature float32
}

// DefaultMaxTokens is applied when Options.MaxTokens is unset.
const DefaultMaxTokens = 4096

// Client generates text from an ordered message list. Callers must
// defensively parse the returned text - it may contain fenced or
// prose-wrapped JSON.
type Client interface {
	GenerateResponse(ctx context.Context, messages []Message, opts Options) (string, error)

	// Provider returns the provider name, used as an instrumentation label.
	Provider() string
}

// Provider names accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// NewClient builds a client for the named provider. The API key is read
// from the provider's conventional environment variable when empty.
func NewClient(provider, model, apiKey string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderAnthropic, "":
		return NewAnthropicClient(keyOrEnv(apiKey, "ANTHROPIC_API_KEY"), model), nil
	case ProviderOpenAI:
		return NewOpenAIClient(keyOrEnv(apiKey, "OPENAI_API_KEY"), model), nil
	case ProviderGoogle:
		return NewGeminiClient(keyOrEnv(apiKey, "GEMINI_API_KEY"), model), nil
	case ProviderOllama:
		return NewOllamaClient(os.Getenv("OLLAMA_HOST"), model)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", provider)
	}
}

func keyOrEnv(key, envVar string) string {
	if key != "" {
		return key
	}
	return os.Getenv(envVar)
}

// splitSystem extracts leading system messages into a single system
// prompt and returns the remaining conversation turns.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, *msg)
	}
	return strings.Join(system, "\n\n"), rest
}

func maxTokensOrDefault(opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return DefaultMaxTokens
}
