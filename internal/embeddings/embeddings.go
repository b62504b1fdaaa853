// Package embeddings generates vector embeddings via langchaingo.
//
// The provider speaks the OpenAI embeddings API, which also covers local
// TEI (Text Embeddings Inference) servers.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/ratelimit"
)

// ErrEmptyInput indicates empty or nil input texts.
var ErrEmptyInput = errors.New("empty or nil input texts")

// Embedder turns text into vectors. Implementations must return one
// vector per input, all of the same dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds connection settings for the embedding provider.
type Config struct {
	// BaseURL of the OpenAI-compatible endpoint.
	// For TEI: http://localhost:8080/v1
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is required for OpenAI, optional for TEI.
	APIKey string
}

// Service is the langchaingo-backed Embedder. All calls queue behind a
// shared rate limiter.
type Service struct {
	embedder *embeddings.EmbedderImpl
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
	config   Config
}

var _ Embedder = (*Service)(nil)

// NewService creates the embedding service.
func NewService(config Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Service, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("embeddings: base URL required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("embeddings: model required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token; TEI ignores it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{
		embedder: embedder,
		limiter:  limiter,
		logger:   logger,
		config:   config,
	}, nil
}

// EmbedDocuments embeds a batch of texts in one provider call.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "embedding documents", err)
	}
	s.logger.Debug("embedded documents",
		zap.String("model", s.config.Model),
		zap.Int("count", len(texts)),
	)
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "embedding query", err)
	}
	return vector, nil
}
