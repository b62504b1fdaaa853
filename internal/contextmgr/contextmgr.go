// Package contextmgr builds the bounded conversation context a session
// turn hands to the search pipeline: recent messages under a token
// budget, the latest summary in full, tracked entities for coreference
// anchoring, and follow-up classification.
package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// maxAnchorEntities caps how many entities are surfaced to the pipeline.
const maxAnchorEntities = 8

// Manager owns per-session context state. Entity trackers and message
// embeddings are in-memory caches; both rebuild from the metastore after
// a restart.
type Manager struct {
	meta      *metastore.Store
	embedder  embeddings.Embedder
	generator llm.Generator
	counter   *chunker.Counter
	logger    *zap.Logger
	config    config.ConversationConfig

	mu        sync.Mutex
	trackers  map[string]*tracker
	vecCache  map[string][]float32
}

// NewManager creates a context manager.
func NewManager(meta *metastore.Store, embedder embeddings.Embedder, generator llm.Generator,
	cfg config.ConversationConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, err := chunker.NewCounter("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("contextmgr: %w", err)
	}
	return &Manager{
		meta:      meta,
		embedder:  embedder,
		generator: generator,
		counter:   counter,
		logger:    logger,
		config:    cfg,
		trackers:  make(map[string]*tracker),
		vecCache:  make(map[string][]float32),
	}, nil
}

// BuiltContext is what a turn feeds into the search pipeline.
type BuiltContext struct {
	Augmentation search.Augmentation
	FollowUp     bool
	Entities     []Entity
	TokensUsed   int
}

// BuildContext assembles the bounded context for a question. The latest
// summary is always included in full; recent messages fill the remaining
// budget newest-first, and older messages compete on embedding relevance
// for whatever budget is left.
func (m *Manager) BuildContext(ctx context.Context, session *metastore.Session, question string) (*BuiltContext, error) {
	msgs, err := m.meta.ListMessages(ctx, session.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	var summary *metastore.Summary
	sum, err := m.meta.LatestSummary(ctx, session.ID)
	switch {
	case err == nil:
		summary = sum
	case errors.Is(err, metastore.ErrNotFound):
	default:
		return nil, fmt.Errorf("loading summary: %w", err)
	}

	budget := session.ContextWindowTokens
	if budget <= 0 {
		budget = m.config.ContextWindowTokens
	}

	used := 0
	summaryText := ""
	if summary != nil {
		summaryText = summary.Text
		used += m.counter.Count(summaryText)
	}

	// Messages the summary already covers stay out of the window.
	var recent []metastore.Message
	for _, msg := range msgs {
		if summary != nil && msg.Ordinal <= summary.LastOrdinal {
			continue
		}
		recent = append(recent, msg)
	}

	included, usedByMessages, err := m.selectMessages(ctx, session.ID, recent, question, budget-used)
	if err != nil {
		return nil, err
	}
	used += usedByMessages

	entities := m.entitiesFor(ctx, session.ID, msgs)
	followUp, err := m.detectFollowUp(ctx, session.ID, question, msgs, entities)
	if err != nil {
		// Classification is advisory; a failed embedding call must not
		// sink the turn.
		m.logger.Warn("follow-up detection failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	anchors := make([]string, 0, maxAnchorEntities)
	for _, e := range entities {
		anchors = append(anchors, e.Text)
		if len(anchors) == maxAnchorEntities {
			break
		}
	}

	return &BuiltContext{
		Augmentation: search.Augmentation{
			RecentDigest: digest(included),
			Entities:     anchors,
			Summary:      summaryText,
		},
		FollowUp:   followUp,
		Entities:   entities,
		TokensUsed: used,
	}, nil
}

// selectMessages fills the budget newest-first, then lets older messages
// compete on relevance to the question for the remaining room.
func (m *Manager) selectMessages(ctx context.Context, sessionID string, recent []metastore.Message,
	question string, budget int) ([]metastore.Message, int, error) {
	if budget <= 0 || len(recent) == 0 {
		return nil, 0, nil
	}

	used := 0
	var included []metastore.Message
	var older []metastore.Message
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		tokens := m.messageTokens(msg)
		if used+tokens <= budget {
			included = append(included, msg)
			used += tokens
			continue
		}
		older = append(older, recent[:i+1]...)
		break
	}

	if len(older) > 0 {
		qvec, err := m.embedder.EmbedQuery(ctx, question)
		if err != nil {
			// Relevance pruning degrades to recency-only.
			m.logger.Warn("relevance pruning skipped", zap.Error(err))
		} else {
			type scored struct {
				msg   metastore.Message
				score float32
			}
			candidates := make([]scored, 0, len(older))
			for _, msg := range older {
				vec, err := m.messageVector(ctx, sessionID, msg)
				if err != nil {
					continue
				}
				candidates = append(candidates, scored{msg, vectorstore.CosineSimilarity(qvec, vec)})
			}
			sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
			for _, c := range candidates {
				tokens := m.messageTokens(c.msg)
				if used+tokens > budget {
					continue
				}
				included = append(included, c.msg)
				used += tokens
			}
		}
	}

	sort.Slice(included, func(i, j int) bool { return included[i].Ordinal < included[j].Ordinal })
	return included, used, nil
}

// detectFollowUp classifies the question: an unresolved pronoun with
// tracked entities to refer to, or high similarity to the previous
// assistant message.
func (m *Manager) detectFollowUp(ctx context.Context, sessionID, question string,
	msgs []metastore.Message, entities []Entity) (bool, error) {
	if hasUnresolvedPronoun(question) && len(entities) > 0 {
		return true, nil
	}

	var prev *metastore.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == metastore.RoleAssistant {
			prev = &msgs[i]
			break
		}
	}
	if prev == nil || m.config.FollowUpSimilarity <= 0 {
		return false, nil
	}

	qvec, err := m.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return false, err
	}
	pvec, err := m.messageVector(ctx, sessionID, *prev)
	if err != nil {
		return false, err
	}
	return float64(vectorstore.CosineSimilarity(qvec, pvec)) >= m.config.FollowUpSimilarity, nil
}

func (m *Manager) messageTokens(msg metastore.Message) int {
	if msg.TokenCount > 0 {
		return msg.TokenCount
	}
	return m.counter.Count(msg.Content)
}

// messageVector embeds a message, caching by (session, ordinal).
// Messages are append-only, so entries never invalidate.
func (m *Manager) messageVector(ctx context.Context, sessionID string, msg metastore.Message) ([]float32, error) {
	key := fmt.Sprintf("%s#%d", sessionID, msg.Ordinal)
	m.mu.Lock()
	vec, ok := m.vecCache[key]
	m.mu.Unlock()
	if ok {
		return vec, nil
	}

	vec, err := m.embedder.EmbedQuery(ctx, msg.Content)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.vecCache[key] = vec
	m.mu.Unlock()
	return vec, nil
}

// Forget drops all cached state for a session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trackers, sessionID)
	prefix := sessionID + "#"
	for key := range m.vecCache {
		if strings.HasPrefix(key, prefix) {
			delete(m.vecCache, key)
		}
	}
}

// digest renders messages in chronological order for the prompt's
// history slot.
func digest(msgs []metastore.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		switch msg.Role {
		case metastore.RoleAssistant:
			b.WriteString("Assistant: ")
		case metastore.RoleSystem:
			b.WriteString("System: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}
