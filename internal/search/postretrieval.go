package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// reranking reorders the retrieved chunks with an LLM relevance pass and
// keeps the configured top slice. Provider failure or an unparseable
// response passes the retrieval order through with a degraded flag.
type reranking struct{ deps }

func (t *reranking) ID() string   { return TechniqueReranking }
func (t *reranking) Stage() Stage { return StagePostRetrieval }

func (t *reranking) Execute(ctx context.Context, sc *SearchContext) error {
	start := time.Now()
	in := sc.Evidence()
	m := &RerankMetrics{InputCount: len(in)}
	sc.Metrics.Rerank = m

	keep := sc.Settings.RerankTopK
	if keep <= 0 || keep > len(in) {
		keep = len(in)
	}

	if len(in) < 2 {
		sc.Reranked = in
		m.OutputCount = len(in)
		m.DurationMS = time.Since(start).Milliseconds()
		return nil
	}

	order, err := t.rankWithLLM(ctx, sc, in)
	if err != nil {
		sc.warn("reranking failed, keeping retrieval order")
		t.logger.Warn("rerank degraded", zap.Error(err))
		m.Degraded = true
		sc.Reranked = in[:keep]
	} else {
		out := make([]Chunk, 0, keep)
		for _, idx := range order {
			out = append(out, in[idx])
			if len(out) == keep {
				break
			}
		}
		sc.Reranked = out
	}

	m.OutputCount = len(sc.Reranked)
	m.DurationMS = time.Since(start).Milliseconds()
	return nil
}

// rankWithLLM asks for a comma-separated ordering of passage numbers and
// resolves it to input indices. Unmentioned passages keep their relative
// retrieval order at the tail, so a partial answer still ranks.
func (t *reranking) rankWithLLM(ctx context.Context, sc *SearchContext, in []Chunk) ([]int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Order the passages below from most to least relevant to the question.\n")
	fmt.Fprintf(&b, "Answer with the passage numbers separated by commas, nothing else.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", sc.RewrittenQuestion)
	for i, c := range in {
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, c.Text)
	}

	out, err := t.generator.Generate(ctx, b.String(), sc.User.Parameters)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(in))
	order := make([]int, 0, len(in))
	for _, field := range strings.FieldsFunc(out, func(r rune) bool {
		return r < '0' || r > '9'
	}) {
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 || n > len(in) || seen[n-1] {
			continue
		}
		seen[n-1] = true
		order = append(order, n-1)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("unparseable rerank response %q", out)
	}
	for i := range in {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order, nil
}

// contextualCompression shrinks each chunk to the sentences that share
// vocabulary with the question. Purely lexical: no provider call, always
// keeps at least one sentence per chunk.
type contextualCompression struct{}

func (t *contextualCompression) ID() string   { return TechniqueContextualCompression }
func (t *contextualCompression) Stage() Stage { return StagePostRetrieval }

func (t *contextualCompression) Execute(ctx context.Context, sc *SearchContext) error {
	in := sc.Evidence()
	if len(in) == 0 {
		return nil
	}

	query := contentWords(sc.RewrittenQuestion)
	out := make([]Chunk, len(in))
	for i, c := range in {
		out[i] = c
		sentences := splitSentences(c.Text)
		if len(sentences) < 2 {
			continue
		}
		kept := make([]string, 0, len(sentences))
		for _, s := range sentences {
			if overlapCount(query, contentWords(s)) > 0 {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			kept = sentences[:1]
		}
		out[i].Text = strings.Join(kept, " ")
	}
	sc.Reranked = out
	return nil
}

// multiFacetedFiltering applies the request's facets: document allow
// list, score floor, and a per-document chunk cap. Chunks arrive sorted
// by relevance, so the cap keeps each document's best.
type multiFacetedFiltering struct{}

func (t *multiFacetedFiltering) ID() string   { return TechniqueMultiFacetedFiltering }
func (t *multiFacetedFiltering) Stage() Stage { return StagePostRetrieval }

func (t *multiFacetedFiltering) Execute(ctx context.Context, sc *SearchContext) error {
	in := sc.Evidence()
	f := sc.Facets

	allowed := make(map[string]bool, len(f.DocumentIDs))
	for _, id := range f.DocumentIDs {
		allowed[id] = true
	}

	perDoc := make(map[string]int)
	out := make([]Chunk, 0, len(in))
	for _, c := range in {
		if len(allowed) > 0 && !allowed[c.DocumentID] {
			continue
		}
		if f.MinScore > 0 && float64(c.Score) < f.MinScore {
			continue
		}
		if f.MaxPerDocument > 0 && perDoc[c.DocumentID] >= f.MaxPerDocument {
			continue
		}
		perDoc[c.DocumentID]++
		out = append(out, c)
	}
	sc.Reranked = out
	return nil
}
