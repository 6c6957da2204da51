package summarizer

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	apperrors "github.com/relaycall/relaycall/internal/errors"
)

// chatProvider implements Provider over any OpenAI-compatible chat completion
// API. Groq exposes the same wire format, so both providers share this
// implementation and differ only in base URL and default model.
type chatProvider struct {
	name   string
	client openai.Client
	cfg    Config
	logger *zap.Logger
}

func newChatProvider(name string, cfg Config, logger *zap.Logger) *chatProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &chatProvider{
		name:   name,
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Summarize produces a short text summary of the call context
func (p *chatProvider) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	if req.ContextBlob == "" && len(req.History) == 0 {
		return "", apperrors.New(apperrors.ErrCodeInvalidContext,
			"summary request contains no conversation context", nil)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	text, err := p.complete(ctx, systemPrompt(req.Style), BuildContext(req), maxTokens, 0.3)
	if err != nil {
		return "", err
	}

	p.logger.Info("generated call summary",
		zap.String("provider", p.name),
		zap.String("style", string(req.Style)),
		zap.Int("length", len(text)))
	return text, nil
}

// SuggestQuestions returns follow-up questions for the receiving agent. A
// provider failure degrades to a static fallback list rather than an error:
// suggestions are advisory.
func (p *chatProvider) SuggestQuestions(ctx context.Context, summary string, callerInfo map[string]string) ([]string, error) {
	var b strings.Builder
	b.WriteString("CALL SUMMARY:\n")
	b.WriteString(summary)
	if len(callerInfo) > 0 {
		b.WriteString("\n\nCALLER INFO:\n")
		for k, v := range callerInfo {
			b.WriteString("- " + k + ": " + v + "\n")
		}
	}

	text, err := p.complete(ctx, questionsPrompt, b.String(), 200, 0.4)
	if err != nil {
		p.logger.Warn("question suggestion failed, using fallback",
			zap.String("provider", p.name),
			zap.Error(err))
		return fallbackQuestions, nil
	}

	questions := parseQuestions(text)
	if len(questions) == 0 {
		return fallbackQuestions, nil
	}
	return questions, nil
}

// Name returns the provider name
func (p *chatProvider) Name() string {
	return p.name
}

func (p *chatProvider) complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(0.9),
	})
	if err != nil {
		return "", p.mapError(err)
	}

	if len(completion.Choices) == 0 {
		return "", apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"provider returned no choices", nil)
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// mapError converts SDK errors into the summarization taxonomy
func (p *chatProvider) mapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return apperrors.New(apperrors.ErrCodeRateLimited,
				p.name+" rate limited", err)
		case apierr.StatusCode >= 400 && apierr.StatusCode < 500:
			return apperrors.New(apperrors.ErrCodeInvalidContext,
				p.name+" rejected the request", err)
		}
	}
	return apperrors.New(apperrors.ErrCodeProviderUnavailable,
		p.name+" request failed", err)
}
