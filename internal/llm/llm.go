// Package llm provides text generation via langchaingo.
//
// Any OpenAI-compatible endpoint works: OpenAI itself, vLLM, Ollama's
// compatibility mode, or a hosted provider.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/ratelimit"
)

// Generator produces a completion for a prompt. Parameters come from the
// per-user configuration resolved at the head of each request.
type Generator interface {
	Generate(ctx context.Context, prompt string, params metastore.LLMParameters) (string, error)
}

// Config holds connection settings for the generation provider.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	// Timeout bounds a single generation call.
	Timeout time.Duration
}

// Service is the langchaingo-backed Generator.
type Service struct {
	llm     *openai.LLM
	limiter *ratelimit.Limiter
	logger  *zap.Logger
	config  Config
}

var _ Generator = (*Service)(nil)

// NewService creates the generation service.
func NewService(config Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Service, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("llm: base URL required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("llm: model required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	client, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return &Service{llm: client, limiter: limiter, logger: logger, config: config}, nil
}

// Generate runs one completion, pacing behind the shared rate limiter.
func (s *Service) Generate(ctx context.Context, prompt string, params metastore.LLMParameters) (string, error) {
	if prompt == "" {
		return "", core.NewError(core.CodeInvalidInput, "empty prompt")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt,
		llms.WithTemperature(params.Temperature),
		llms.WithMaxTokens(params.MaxNewTokens),
		llms.WithTopP(params.TopP),
		llms.WithTopK(params.TopK),
	)
	if err != nil {
		return "", core.WrapError(core.CodeDependencyUnavailable, "llm generation", err)
	}

	s.logger.Debug("generated completion",
		zap.String("model", s.config.Model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("output_chars", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
