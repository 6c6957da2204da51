package summarizer

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/relaycall/relaycall/internal/errors"
)

// Provider defines the interface for generative summarization backends
type Provider interface {
	// Summarize produces a short text summary of the call context
	Summarize(ctx context.Context, req SummaryRequest) (string, error)

	// SuggestQuestions returns follow-up questions the receiving agent
	// should consider, derived from a generated summary
	SuggestQuestions(ctx context.Context, summary string, callerInfo map[string]string) ([]string, error)

	// Name returns the provider name
	Name() string
}

// Entry is one exchange in the conversation history
type Entry struct {
	Timestamp string `json:"timestamp,omitempty"`
	Speaker   string `json:"speaker"`
	Message   string `json:"message"`
}

// SummaryRequest carries the call context to summarize. Either ContextBlob
// or History must be set; History entries are rendered into the prompt when
// both are present.
type SummaryRequest struct {
	ContextBlob string            `json:"context_blob,omitempty"`
	History     []Entry           `json:"history,omitempty"`
	CallerInfo  map[string]string `json:"caller_info,omitempty"`
	Style       Style             `json:"style,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

// Config selects and configures the summarization provider
type Config struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"

	groqBaseURL = "https://api.groq.com/openai/v1"

	defaultOpenAIModel = "gpt-4o-mini"
	defaultGroqModel   = "llama-3.3-70b-versatile"
	defaultMaxTokens   = 500
)

// NewProviderFromConfig creates a summarization provider from configuration
func NewProviderFromConfig(cfg Config, logger *zap.Logger) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			"summarizer api key is required", nil)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
		return newChatProvider(ProviderOpenAI, cfg, logger), nil

	case ProviderGroq:
		if cfg.BaseURL == "" {
			cfg.BaseURL = groqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = defaultGroqModel
		}
		return newChatProvider(ProviderGroq, cfg, logger), nil

	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			"unsupported summarizer provider: "+cfg.Provider, nil)
	}
}
