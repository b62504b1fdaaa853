package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxSubQuestions bounds a decomposition; more sub-searches than this
// costs latency without improving synthesis.
const maxSubQuestions = 4

// cotDecomposition splits a complex question into sub-questions and runs
// a retrieval+generation sub-search for each, recording the trace for
// synthesis. Simple questions pass through untouched.
type cotDecomposition struct{ deps }

func (t *cotDecomposition) ID() string   { return TechniqueCoTDecomposition }
func (t *cotDecomposition) Stage() Stage { return StageReasoning }

func (t *cotDecomposition) Execute(ctx context.Context, sc *SearchContext) error {
	start := time.Now()
	m := &CoTMetrics{}
	sc.Metrics.CoT = m

	if !isComplexQuestion(sc.RewrittenQuestion) {
		m.DurationMS = time.Since(start).Milliseconds()
		return nil
	}
	m.Complex = true

	subs, err := t.decompose(ctx, sc)
	if err != nil {
		// Reasoning is optional: the pipeline still answers directly.
		sc.warn("question decomposition failed, answering directly")
		t.logger.Warn("cot decomposition failed", zap.Error(err))
		m.DurationMS = time.Since(start).Milliseconds()
		return nil
	}

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		step, err := t.subSearch(ctx, sc, sub)
		if err != nil {
			sc.warn(fmt.Sprintf("sub-search failed for %q", sub))
			t.logger.Warn("cot sub-search failed", zap.String("sub_question", sub), zap.Error(err))
			continue
		}
		sc.Reasoning = append(sc.Reasoning, step)
	}

	m.SubQuestions = len(sc.Reasoning)
	m.DurationMS = time.Since(start).Milliseconds()
	return nil
}

func (t *cotDecomposition) decompose(ctx context.Context, sc *SearchContext) ([]string, error) {
	prompt := fmt.Sprintf(
		"Break the question below into at most %d simpler sub-questions that can each be answered from documents independently.\n"+
			"Return one sub-question per line with no numbering.\n\nQuestion: %s",
		maxSubQuestions, sc.RewrittenQuestion)

	out, err := t.generator.Generate(ctx, prompt, sc.User.Parameters)
	if err != nil {
		return nil, err
	}

	var subs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		subs = append(subs, line)
		if len(subs) == maxSubQuestions {
			break
		}
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("decomposition produced no sub-questions")
	}
	return subs, nil
}

// subSearch runs retrieval and generation for one sub-question using the
// parent request's collection and settings.
func (t *cotDecomposition) subSearch(ctx context.Context, sc *SearchContext, sub string) (ReasoningStep, error) {
	chunks, err := retrieve(ctx, t.deps, sc, sub)
	if err != nil {
		return ReasoningStep{}, err
	}

	step := ReasoningStep{SubQuestion: sub, Chunks: chunks}
	if len(chunks) == 0 {
		step.Answer = insufficientContextAnswer
		return step, nil
	}

	prompt, err := renderRAGPrompt(sc, sub, chunks, "")
	if err != nil {
		return ReasoningStep{}, err
	}
	answer, _, err := generateWithRetries(ctx, t.deps, sc, prompt)
	if err != nil {
		return ReasoningStep{}, err
	}
	step.Answer = answer
	return step, nil
}

// cotSynthesis composes the final answer from the reasoning trace. With
// no trace it is a no-op and the built-in generation answers directly.
type cotSynthesis struct{ deps }

func (t *cotSynthesis) ID() string   { return TechniqueCoTSynthesis }
func (t *cotSynthesis) Stage() Stage { return StageGeneration }

func (t *cotSynthesis) Execute(ctx context.Context, sc *SearchContext) error {
	if len(sc.Reasoning) == 0 {
		return nil
	}
	start := time.Now()

	var b strings.Builder
	b.WriteString("Combine the findings below into one coherent answer to the main question.\n")
	b.WriteString("Use only the findings; do not add outside knowledge.\n\n")
	fmt.Fprintf(&b, "Main question: %s\n\n", sc.RewrittenQuestion)
	for i, step := range sc.Reasoning {
		fmt.Fprintf(&b, "Finding %d (%s):\n%s\n\n", i+1, step.SubQuestion, step.Answer)
	}
	b.WriteString("Answer:")

	answer, retries, err := generateWithRetries(ctx, t.deps, sc, b.String())
	if err != nil {
		return err
	}
	sc.Answer = strings.TrimSpace(answer)

	// Sub-search evidence backs the synthesized answer; merge it so
	// attribution can see it.
	mergeReasoningEvidence(sc)

	if sc.Metrics.Generation == nil {
		sc.Metrics.Generation = &GenerationMetrics{}
	}
	sc.Metrics.Generation.Retries += retries
	sc.Metrics.Generation.DurationMS += time.Since(start).Milliseconds()
	return nil
}

func mergeReasoningEvidence(sc *SearchContext) {
	seen := make(map[string]bool)
	merged := sc.Evidence()
	for _, c := range merged {
		seen[c.DocumentID+"#"+fmt.Sprint(c.Ordinal)] = true
	}
	for _, step := range sc.Reasoning {
		for _, c := range step.Chunks {
			key := c.DocumentID + "#" + fmt.Sprint(c.Ordinal)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, c)
		}
	}
	sc.Reranked = merged
}

// isComplexQuestion is a cheap heuristic gate in front of decomposition.
func isComplexQuestion(q string) bool {
	lower := strings.ToLower(q)
	if strings.Count(q, "?") > 1 {
		return true
	}
	for _, marker := range []string{" and ", "compare", "difference between", " versus ", " vs ", "pros and cons"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return len(strings.Fields(q)) > 20
}
