package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

// insufficientContextAnswer is returned verbatim when retrieval found
// nothing to ground an answer in. Generation is skipped entirely: with
// no evidence the model would only fabricate.
const insufficientContextAnswer = "I don't have enough information in this collection to answer that question."

// runGeneration produces the final answer from the evidence. Pipelines
// whose techniques already set an answer (chain-of-thought synthesis)
// skip it.
func (s *Service) runGeneration(ctx context.Context, sc *SearchContext) error {
	if sc.Answer != "" {
		return nil
	}
	start := time.Now()
	evidence := sc.Evidence()

	if len(evidence) == 0 {
		sc.Answer = insufficientContextAnswer
		sc.Sources = []Source{}
		sc.Metrics.Generation = &GenerationMetrics{
			DurationMS: time.Since(start).Milliseconds(),
		}
		return nil
	}

	history := ""
	if sc.Augmentation != nil {
		history = historyBlock(sc.Augmentation)
	}
	prompt, err := renderRAGPrompt(sc, sc.RewrittenQuestion, evidence, history)
	if err != nil {
		return core.WrapError(core.CodeInternal, "rendering prompt", err)
	}

	answer, retries, err := generateWithRetries(ctx, s.deps, sc, prompt)
	if err != nil {
		return err
	}

	sc.Answer = strings.TrimSpace(answer)
	sc.Metrics.Generation = &GenerationMetrics{
		PromptTokens: s.counter.Count(prompt),
		AnswerTokens: s.counter.Count(sc.Answer),
		Retries:      retries,
		DurationMS:   time.Since(start).Milliseconds(),
	}
	return nil
}

// generateWithRetries calls the provider, retrying transient failures up
// to the configured count with linear backoff. Cancellation is never
// retried. The terminal failure surfaces as a generation error.
func generateWithRetries(ctx context.Context, d deps, sc *SearchContext, prompt string) (string, int, error) {
	var lastErr error
	for attempt := 0; attempt <= sc.Settings.GenerationRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", attempt - 1, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		out, err := d.generator.Generate(ctx, prompt, sc.User.Parameters)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", attempt, err
		}
	}
	return "", sc.Settings.GenerationRetries,
		core.WrapError(core.CodeDependencyUnavailable, "generation failed", lastErr)
}

// renderRAGPrompt fills the user's rag_query template with the evidence
// block, optional history, and the question.
func renderRAGPrompt(sc *SearchContext, question string, evidence []Chunk, history string) (string, error) {
	tmpl, err := template.New(metastore.TemplateRAGQuery).
		Parse(sc.User.Template(metastore.TemplateRAGQuery))
	if err != nil {
		return "", fmt.Errorf("parsing rag_query template: %w", err)
	}

	var b strings.Builder
	err = tmpl.Execute(&b, struct {
		Context  string
		History  string
		Question string
	}{
		Context:  contextBlock(evidence),
		History:  history,
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("executing rag_query template: %w", err)
	}
	return b.String(), nil
}

// contextBlock formats evidence chunks with their provenance so the
// model can cite pages.
func contextBlock(evidence []Chunk) string {
	var b strings.Builder
	for i, c := range evidence {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d]", i+1)
		if c.Filename != "" {
			fmt.Fprintf(&b, " %s", c.Filename)
		}
		if c.Page > 0 {
			fmt.Fprintf(&b, ", page %d", c.Page)
		}
		b.WriteString(":\n")
		b.WriteString(c.Text)
	}
	return b.String()
}

// historyBlock renders the conversation augmentation for the {{.History}}
// template slot. Ends with a newline so the slot composes cleanly.
func historyBlock(a *Augmentation) string {
	var b strings.Builder
	if a.Summary != "" {
		b.WriteString("Conversation summary: ")
		b.WriteString(a.Summary)
		b.WriteString("\n")
	}
	if a.RecentDigest != "" {
		b.WriteString(a.RecentDigest)
		b.WriteString("\n")
	}
	return b.String()
}
