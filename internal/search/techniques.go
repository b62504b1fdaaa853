package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// deps are the providers techniques draw on. All request-scoped state
// lives on the SearchContext; technique values are shared and stateless.
type deps struct {
	vectors   vectorstore.Store
	embedder  embeddings.Embedder
	generator llm.Generator
	logger    *zap.Logger
}

// defaultRegistry registers the built-in techniques.
func defaultRegistry(d deps) *Registry {
	r := NewRegistry()
	for _, t := range []Technique{
		&queryRewriting{d},
		&hyde{d},
		&vectorRetrieval{d},
		&fusionRetrieval{d},
		&reranking{d},
		&contextualCompression{},
		&multiFacetedFiltering{},
		&cotDecomposition{d},
		&cotSynthesis{d},
	} {
		// Built-in IDs are distinct; Register cannot fail here.
		_ = r.Register(t)
	}
	return r
}

// normalizeQuestion collapses runs of whitespace. Casing is preserved:
// proper nouns matter to retrieval.
func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// queryRewriting asks the LLM to make the question self-contained,
// expanding acronyms and resolving pronouns against tracked entities.
// A provider failure falls back to the normalized original.
type queryRewriting struct{ deps }

func (t *queryRewriting) ID() string   { return TechniqueQueryRewriting }
func (t *queryRewriting) Stage() Stage { return StageQueryTransformation }

func (t *queryRewriting) Execute(ctx context.Context, sc *SearchContext) error {
	start := time.Now()
	m := ensureEnhancement(sc)

	var b strings.Builder
	b.WriteString("Rewrite the question below so it is fully self-contained for a document search.\n")
	b.WriteString("Expand acronyms and replace pronouns with the entity they refer to.\n")
	b.WriteString("Return only the rewritten question, nothing else.\n\n")
	if sc.Augmentation != nil && len(sc.Augmentation.Entities) > 0 {
		b.WriteString("Entities mentioned earlier in the conversation: ")
		b.WriteString(strings.Join(sc.Augmentation.Entities, ", "))
		b.WriteString("\n")
	}
	if sc.Augmentation != nil && sc.Augmentation.RecentDigest != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(sc.Augmentation.RecentDigest)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(sc.RewrittenQuestion)

	out, err := t.generator.Generate(ctx, b.String(), sc.User.Parameters)
	if err != nil {
		// Enhancement is best effort; the cleaned original still works.
		sc.warn("query rewriting failed, using original question")
		m.Fallback = true
		m.DurationMS = time.Since(start).Milliseconds()
		t.logger.Warn("query rewriting failed", zap.Error(err))
		return nil
	}

	rewritten := normalizeQuestion(out)
	if rewritten != "" {
		sc.RewrittenQuestion = rewritten
		m.Rewritten = true
	}
	m.DurationMS += time.Since(start).Milliseconds()
	return nil
}

// hyde generates a hypothetical answer document and retrieves against
// its embedding instead of the question's. Failure is non-fatal.
type hyde struct{ deps }

func (t *hyde) ID() string   { return TechniqueHyDE }
func (t *hyde) Stage() Stage { return StageQueryTransformation }

func (t *hyde) Execute(ctx context.Context, sc *SearchContext) error {
	start := time.Now()
	m := ensureEnhancement(sc)

	prompt := fmt.Sprintf(
		"Write a short factual passage that would answer the question below.\n"+
			"Write as if quoting a reference document. Do not address the reader.\n\nQuestion: %s\n\nPassage:",
		sc.RewrittenQuestion)

	out, err := t.generator.Generate(ctx, prompt, sc.User.Parameters)
	if err != nil {
		sc.warn("hypothetical document generation failed, retrieving by question")
		m.Fallback = true
		m.DurationMS += time.Since(start).Milliseconds()
		t.logger.Warn("hyde generation failed", zap.Error(err))
		return nil
	}
	if out = strings.TrimSpace(out); out != "" {
		sc.HypotheticalAnswer = out
		m.Hypothetical = true
	}
	m.DurationMS += time.Since(start).Milliseconds()
	return nil
}

func ensureEnhancement(sc *SearchContext) *EnhancementMetrics {
	if sc.Metrics.Enhancement == nil {
		sc.Metrics.Enhancement = &EnhancementMetrics{}
	}
	return sc.Metrics.Enhancement
}

// vectorRetrieval embeds the working query and runs a k-nearest-neighbor
// search in the collection's namespace. Empty results are legitimate.
type vectorRetrieval struct{ deps }

func (t *vectorRetrieval) ID() string   { return TechniqueVectorRetrieval }
func (t *vectorRetrieval) Stage() Stage { return StageRetrieval }

func (t *vectorRetrieval) Execute(ctx context.Context, sc *SearchContext) error {
	start := time.Now()

	chunks, err := retrieve(ctx, t.deps, sc, retrievalText(sc))
	if err != nil {
		return err
	}
	sc.Retrieved = chunks
	sc.Metrics.Retrieval = &RetrievalMetrics{
		K:            sc.TopK,
		ResultsCount: len(chunks),
		TopScore:     topScore(chunks),
		DurationMS:   time.Since(start).Milliseconds(),
	}
	return nil
}

// fusionRetrieval retrieves for the original question, the rewritten
// question, and the hypothetical answer when present, then merges the
// result lists with reciprocal rank fusion.
type fusionRetrieval struct{ deps }

func (t *fusionRetrieval) ID() string   { return TechniqueFusionRetrieval }
func (t *fusionRetrieval) Stage() Stage { return StageRetrieval }

// rrfK dampens the rank contribution in reciprocal rank fusion.
const rrfK = 60

func (t *fusionRetrieval) Execute(ctx context.Context, sc *SearchContext) error {
	start := time.Now()

	queries := []string{sc.RewrittenQuestion}
	if sc.OriginalQuestion != sc.RewrittenQuestion {
		queries = append(queries, sc.OriginalQuestion)
	}
	if sc.HypotheticalAnswer != "" {
		queries = append(queries, sc.HypotheticalAnswer)
	}

	type scored struct {
		chunk Chunk
		score float64
	}
	fused := make(map[string]*scored)
	for _, q := range queries {
		chunks, err := retrieve(ctx, t.deps, sc, q)
		if err != nil {
			return err
		}
		for rank, c := range chunks {
			key := c.DocumentID + "#" + strconv.Itoa(c.Ordinal)
			s, ok := fused[key]
			if !ok {
				s = &scored{chunk: c}
				fused[key] = s
			}
			s.score += 1.0 / float64(rrfK+rank+1)
			if c.Score > s.chunk.Score {
				s.chunk.Score = c.Score
			}
		}
	}

	merged := make([]scored, 0, len(fused))
	for _, s := range fused {
		merged = append(merged, *s)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		if merged[i].chunk.Score != merged[j].chunk.Score {
			return merged[i].chunk.Score > merged[j].chunk.Score
		}
		return merged[i].chunk.Ordinal < merged[j].chunk.Ordinal
	})
	if len(merged) > sc.TopK {
		merged = merged[:sc.TopK]
	}

	chunks := make([]Chunk, len(merged))
	for i, s := range merged {
		chunks[i] = s.chunk
	}
	sc.Retrieved = chunks
	sc.Metrics.Retrieval = &RetrievalMetrics{
		K:            sc.TopK,
		ResultsCount: len(chunks),
		TopScore:     topScore(chunks),
		Fusion:       true,
		DurationMS:   time.Since(start).Milliseconds(),
	}
	return nil
}

// retrievalText picks what gets embedded: the hypothetical answer when
// hyde produced one, otherwise the rewritten question.
func retrievalText(sc *SearchContext) string {
	if sc.HypotheticalAnswer != "" {
		return sc.HypotheticalAnswer
	}
	return sc.RewrittenQuestion
}

// retrieve embeds text and queries the collection's namespace, applying
// the configured similarity threshold.
func retrieve(ctx context.Context, d deps, sc *SearchContext, text string) ([]Chunk, error) {
	vec, err := d.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "embedding query", err)
	}

	matches, err := d.vectors.Query(ctx, sc.Collection.Namespace, vec, sc.TopK, nil)
	if err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "vector search", err)
	}

	chunks := make([]Chunk, 0, len(matches))
	for _, m := range matches {
		// A zero threshold means no floor.
		if sc.Settings.SimilarityThreshold > 0 && float64(m.Score) < sc.Settings.SimilarityThreshold {
			continue
		}
		chunks = append(chunks, chunkFromMatch(m))
	}
	return chunks, nil
}

func chunkFromMatch(m vectorstore.Match) Chunk {
	page, _ := strconv.Atoi(m.Metadata[vectorstore.MetaPage])
	return Chunk{
		DocumentID: m.Key.DocumentID,
		Ordinal:    m.Key.Ordinal,
		Score:      m.Score,
		Text:       m.Text,
		Page:       page,
		Title:      m.Metadata[vectorstore.MetaTitle],
		Filename:   m.Metadata[vectorstore.MetaFilename],
	}
}

func topScore(chunks []Chunk) float32 {
	if len(chunks) == 0 {
		return 0
	}
	return chunks[0].Score
}
