// Package search runs the staged retrieval-augmented answer pipeline:
// query transformation, vector retrieval, post-retrieval shaping,
// optional chain-of-thought reasoning, generation, and source
// attribution. Stages are composable techniques resolved per request
// from a preset or an explicit list.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/identity"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// Request is one search invocation.
type Request struct {
	UserID       string
	CollectionID string
	Question     string

	// TopK overrides the configured retrieval depth when positive.
	TopK int

	// Pipeline selects techniques. Zero value means the user's stored
	// preset.
	Pipeline PipelineSpec

	Facets       Facets
	Augmentation *Augmentation
}

// Output is the result of a search. On cancellation or stage failure the
// output still carries whatever metrics the completed stages produced.
type Output struct {
	CorrelationID     string          `json:"correlation_id"`
	Answer            string          `json:"answer"`
	Sources           []Source        `json:"sources"`
	OriginalQuestion  string          `json:"original_question"`
	RewrittenQuestion string          `json:"rewritten_question"`
	Reasoning         []ReasoningStep `json:"reasoning,omitempty"`
	Metrics           Metrics         `json:"metrics"`
	Warnings          []string        `json:"warnings,omitempty"`
}

// Service orchestrates the pipeline.
type Service struct {
	deps
	meta     *metastore.Store
	builder  *Builder
	counter  *chunker.Counter
	settings config.SearchConfig
}

// NewService wires the search service with the built-in technique
// registry.
func NewService(meta *metastore.Store, vectors vectorstore.Store, embedder embeddings.Embedder,
	generator llm.Generator, settings config.SearchConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, err := chunker.NewCounter("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	d := deps{vectors: vectors, embedder: embedder, generator: generator, logger: logger}
	return &Service{
		deps:     d,
		meta:     meta,
		builder:  NewBuilder(defaultRegistry(d)),
		counter:  counter,
		settings: settings,
	}, nil
}

// Search resolves the user snapshot and the pipeline, then runs the
// stages in order, checking cancellation between them.
func (s *Service) Search(ctx context.Context, req Request) (*Output, error) {
	question := normalizeQuestion(req.Question)
	if question == "" {
		return nil, core.NewError(core.CodeInvalidInput, "question is required")
	}

	if s.settings.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Deadline)
		defer cancel()
	}

	user, err := s.meta.ResolveUserConfig(ctx, req.UserID)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "resolving user configuration", err)
	}

	col, err := s.visibleCollection(ctx, req.UserID, req.CollectionID)
	if err != nil {
		return nil, err
	}

	spec := req.Pipeline
	if spec.Preset == "" && len(spec.Techniques) == 0 && !spec.CoTEnabled {
		spec.Preset = user.Pipeline.Preset
	}
	techniques, err := s.builder.Build(spec)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.settings.TopK
	}

	sc := &SearchContext{
		Collection:        col,
		User:              user,
		Settings:          s.settings,
		TopK:              topK,
		Facets:            req.Facets,
		Augmentation:      req.Augmentation,
		OriginalQuestion:  question,
		RewrittenQuestion: question,
	}
	correlationID := identity.NewID()

	out, err := s.run(ctx, sc, techniques)
	out.CorrelationID = correlationID

	switch {
	case err == nil:
		SearchesTotal.WithLabelValues("success").Inc()
		s.logger.Info("search completed",
			zap.String("correlation_id", correlationID),
			zap.String("collection_id", col.ID),
			zap.String("user_id", req.UserID),
			zap.Int("sources", len(out.Sources)),
		)
	case core.CodeOf(err) == core.CodeCancelled || core.CodeOf(err) == core.CodeDeadlineExceeded:
		SearchesTotal.WithLabelValues("cancelled").Inc()
		s.logger.Warn("search cancelled",
			zap.String("correlation_id", correlationID),
			zap.String("collection_id", col.ID),
			zap.Error(err),
		)
	default:
		SearchesTotal.WithLabelValues("error").Inc()
		s.logger.Error("search failed",
			zap.String("correlation_id", correlationID),
			zap.String("collection_id", col.ID),
			zap.Error(err),
		)
	}
	return out, err
}

// run executes the stage sequence. The returned output is always
// non-nil so callers can surface partial metrics alongside the error.
func (s *Service) run(ctx context.Context, sc *SearchContext, techniques []Technique) (*Output, error) {
	for _, t := range techniques {
		if err := ctx.Err(); err != nil {
			return outputOf(sc), mapContextErr(err)
		}
		start := time.Now()
		err := t.Execute(ctx, sc)
		StageDuration.WithLabelValues(t.ID()).Observe(time.Since(start).Seconds())
		if err != nil {
			return outputOf(sc), mapContextErr(err)
		}
	}

	if sc.Metrics.Retrieval != nil {
		RetrievedChunks.Observe(float64(sc.Metrics.Retrieval.ResultsCount))
	}

	if err := ctx.Err(); err != nil {
		return outputOf(sc), mapContextErr(err)
	}
	start := time.Now()
	if err := s.runGeneration(ctx, sc); err != nil {
		return outputOf(sc), mapContextErr(err)
	}
	StageDuration.WithLabelValues("generation").Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return outputOf(sc), mapContextErr(err)
	}
	start = time.Now()
	attribute(sc)
	StageDuration.WithLabelValues("attribution").Observe(time.Since(start).Seconds())

	return outputOf(sc), nil
}

func outputOf(sc *SearchContext) *Output {
	return &Output{
		Answer:            sc.Answer,
		Sources:           sc.Sources,
		OriginalQuestion:  sc.OriginalQuestion,
		RewrittenQuestion: sc.RewrittenQuestion,
		Reasoning:         sc.Reasoning,
		Metrics:           sc.Metrics,
		Warnings:          sc.Warnings,
	}
}

// visibleCollection enforces read visibility: public collections are
// readable by anyone, private ones only by their owner, and deleted
// collections answer "collection deleted" so session turns can
// distinguish the case.
func (s *Service) visibleCollection(ctx context.Context, requesterID, collectionID string) (*metastore.Collection, error) {
	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection deleted")
	}
	if col.Privacy != metastore.PrivacyPublic && col.OwnerID != requesterID {
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}
	return col, nil
}

func mapContextErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.WrapError(core.CodeDeadlineExceeded, "search deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return core.WrapError(core.CodeCancelled, "search cancelled", err)
	}
	return err
}
