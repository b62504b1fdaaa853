package conversation

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
)

// Export is the structured dump of a session: messages with their
// sources, and all summaries. Message and summary text is scrubbed for
// secrets before it leaves the service.
type Export struct {
	SessionID    string            `json:"session_id"`
	Name         string            `json:"name"`
	CollectionID string            `json:"collection_id"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	ExportedAt   time.Time         `json:"exported_at"`
	Messages     []ExportedMessage `json:"messages"`
	Summaries    []ExportedSummary `json:"summaries"`
	// Redactions counts secret findings removed from the dump.
	Redactions int `json:"redactions"`
}

// ExportedMessage is one message in the dump.
type ExportedMessage struct {
	Ordinal       int             `json:"ordinal"`
	Role          string          `json:"role"`
	Type          string          `json:"type"`
	Content       string          `json:"content"`
	TokenCount    int             `json:"token_count"`
	Sources       []search.Source `json:"sources,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ExportedSummary is one summary in the dump.
type ExportedSummary struct {
	Strategy     string    `json:"strategy"`
	FirstOrdinal int       `json:"first_ordinal"`
	LastOrdinal  int       `json:"last_ordinal"`
	Text         string    `json:"text"`
	Superseded   bool      `json:"superseded"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExportSession produces the dump for a session the requester owns.
// A pure read: no session state changes.
func (s *Service) ExportSession(ctx context.Context, requesterID, sessionID string) (*Export, error) {
	sess, err := s.Get(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.meta.ListMessages(ctx, sess.ID, 0)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "listing messages", err)
	}
	sums, err := s.meta.ListSummaries(ctx, sess.ID)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "listing summaries", err)
	}

	dump := &Export{
		SessionID:    sess.ID,
		Name:         sess.Name,
		CollectionID: sess.CollectionID,
		Status:       string(sess.Status),
		CreatedAt:    sess.CreatedAt,
		ExportedAt:   time.Now().UTC(),
		Messages:     make([]ExportedMessage, 0, len(msgs)),
		Summaries:    make([]ExportedSummary, 0, len(sums)),
	}

	for _, msg := range msgs {
		scrubbed := s.scrubber.Scrub(msg.Content)
		dump.Redactions += len(scrubbed.Findings)

		em := ExportedMessage{
			Ordinal:    msg.Ordinal,
			Role:       string(msg.Role),
			Type:       string(msg.Type),
			Content:    scrubbed.Scrubbed,
			TokenCount: msg.TokenCount,
			CreatedAt:  msg.CreatedAt,
		}
		if msg.Metadata != "" {
			var mm messageMeta
			if err := json.Unmarshal([]byte(msg.Metadata), &mm); err == nil {
				em.Sources = mm.Sources
				em.CorrelationID = mm.CorrelationID
			}
		}
		dump.Messages = append(dump.Messages, em)
	}

	for _, sum := range sums {
		scrubbed := s.scrubber.Scrub(sum.Text)
		dump.Redactions += len(scrubbed.Findings)
		dump.Summaries = append(dump.Summaries, ExportedSummary{
			Strategy:     sum.Strategy,
			FirstOrdinal: sum.FirstOrdinal,
			LastOrdinal:  sum.LastOrdinal,
			Text:         scrubbed.Scrubbed,
			Superseded:   sum.Superseded,
			CreatedAt:    sum.CreatedAt,
		})
	}

	if dump.Redactions > 0 {
		s.logger.Info("export redacted secrets",
			zap.String("session_id", sess.ID),
			zap.Int("redactions", dump.Redactions),
		)
	}
	return dump, nil
}
