package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// DefaultOpenRouterBaseURL is the OpenAI-compatible OpenRouter endpoint.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes one chat completion round-trip.
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// ToolSpec is a tool descriptor as sent to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema object
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// GatewayConfig holds credentials and transport settings for every backend.
type GatewayConfig struct {
	OpenAIAPIKey      string
	OpenRouterAPIKey  string
	AnthropicAPIKey   string
	OpenRouterBaseURL string
	Timeout           time.Duration
}

// ProviderFactory resolves a model identifier to the backend that serves it.
// Providers are built lazily and reused.
type ProviderFactory struct {
	cfg       GatewayConfig
	mu        sync.Mutex
	providers map[string]LLMProvider
}

// NewProviderFactory creates a ProviderFactory.
func NewProviderFactory(cfg GatewayConfig) *ProviderFactory {
	if cfg.OpenRouterBaseURL == "" {
		cfg.OpenRouterBaseURL = DefaultOpenRouterBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ProviderFactory{
		cfg:       cfg,
		providers: make(map[string]LLMProvider),
	}
}

// RouteForModel names the provider a model identifier is sent to.
func RouteForModel(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI
	case strings.HasPrefix(lower, "claude-"):
		return ProviderAnthropic
	default:
		return ProviderOpenRouter
	}
}

// ForModel returns the provider for model. A missing credential is reported
// as a *GatewayError naming the environment variable to set.
func (f *ProviderFactory) ForModel(model string) (LLMProvider, error) {
	route := RouteForModel(model)

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[route]; ok {
		return p, nil
	}

	var p LLMProvider
	switch route {
	case ProviderOpenAI:
		if f.cfg.OpenAIAPIKey == "" {
			return nil, &GatewayError{Provider: route, Err: errors.New("OPENAI_API_KEY is missing")}
		}
		p = NewOpenAIProvider(ProviderOpenAI, f.cfg.OpenAIAPIKey, "", f.cfg.Timeout)
	case ProviderAnthropic:
		if f.cfg.AnthropicAPIKey == "" {
			return nil, &GatewayError{Provider: route, Err: errors.New("ANTHROPIC_API_KEY is missing")}
		}
		p = NewAnthropicProvider(f.cfg.AnthropicAPIKey, f.cfg.Timeout)
	default:
		if f.cfg.OpenRouterAPIKey == "" {
			return nil, &GatewayError{Provider: route, Err: errors.New("OPENROUTER_API_KEY is missing")}
		}
		p = NewOpenAIProvider(ProviderOpenRouter, f.cfg.OpenRouterAPIKey, f.cfg.OpenRouterBaseURL, f.cfg.Timeout)
	}

	f.providers[route] = p
	return p, nil
}
