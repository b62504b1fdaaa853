package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/identity"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

// SummaryStrategy is recorded on summaries this manager produces.
const SummaryStrategy = "rolling"

const summarizePrompt = `Summarize the conversation below in a short paragraph.
Keep every fact, name, and number that later questions might refer to.
Write in the third person.

%s

Summary:`

// ShouldSummarize reports whether the unsummarized portion of the
// session has outgrown the threshold.
func (m *Manager) ShouldSummarize(ctx context.Context, sessionID string) (bool, error) {
	_, tokens, err := m.unsummarized(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return tokens > m.config.SummarizeThreshold, nil
}

// Summarize digests the unsummarized message range into a new summary
// row. Earlier summaries whose ranges the new one subsumes are marked
// superseded by the store. A session with nothing new is a no-op.
func (m *Manager) Summarize(ctx context.Context, session *metastore.Session) (*metastore.Summary, error) {
	msgs, tokens, err := m.unsummarized(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	text, err := m.generator.Generate(ctx,
		fmt.Sprintf(summarizePrompt, digest(msgs)),
		metastore.DefaultLLMParameters)
	if err != nil {
		return nil, fmt.Errorf("summarizing session: %w", err)
	}
	text = strings.TrimSpace(text)

	sum := &metastore.Summary{
		ID:           identity.NewID(),
		SessionID:    session.ID,
		Strategy:     SummaryStrategy,
		FirstOrdinal: msgs[0].Ordinal,
		LastOrdinal:  msgs[len(msgs)-1].Ordinal,
		Text:         text,
		TokensSaved:  tokens - m.counter.Count(text),
	}
	if err := m.meta.CreateSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("storing summary: %w", err)
	}

	m.logger.Info("session summarized",
		zap.String("session_id", session.ID),
		zap.Int("first_ordinal", sum.FirstOrdinal),
		zap.Int("last_ordinal", sum.LastOrdinal),
		zap.Int("tokens_saved", sum.TokensSaved),
	)
	return sum, nil
}

// unsummarized returns the messages newer than the latest summary and
// their token total.
func (m *Manager) unsummarized(ctx context.Context, sessionID string) ([]metastore.Message, int, error) {
	afterOrdinal := 0
	sum, err := m.meta.LatestSummary(ctx, sessionID)
	switch {
	case err == nil:
		afterOrdinal = sum.LastOrdinal
	case errors.Is(err, metastore.ErrNotFound):
	default:
		return nil, 0, fmt.Errorf("loading summary: %w", err)
	}

	msgs, err := m.meta.ListMessages(ctx, sessionID, afterOrdinal)
	if err != nil {
		return nil, 0, fmt.Errorf("listing messages: %w", err)
	}

	tokens := 0
	for _, msg := range msgs {
		tokens += m.messageTokens(msg)
	}
	return msgs, tokens, nil
}
