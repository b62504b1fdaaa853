package conversation

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
)

// maxAutoNameWords bounds LLM-proposed session names.
const maxAutoNameWords = 6

// TurnRequest is one user turn in a session.
type TurnRequest struct {
	RequesterID string
	SessionID   string
	Question    string
	// Pipeline optionally overrides the user's stored preset for this
	// turn.
	Pipeline search.PipelineSpec
	TopK     int
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	UserMessage      metastore.Message
	AssistantMessage metastore.Message
	Search           *search.Output
	FollowUp         bool
	SummaryScheduled bool
}

// messageMeta is the JSON stored on assistant messages.
type messageMeta struct {
	Sources       []search.Source `json:"sources"`
	CorrelationID string          `json:"correlation_id"`
}

// Turn runs the full turn algorithm: append the user message, build
// bounded context, invoke the search pipeline with the augmentation,
// append the assistant message, then post-turn maintenance (entity
// tracking, summarization scheduling, auto-naming).
//
// Turns are serialized per session; a concurrent turn waits up to the
// busy timeout and then fails with "session busy". If the search fails
// no assistant message is persisted.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, core.NewError(core.CodeInvalidInput, "question is required")
	}

	sess, err := s.Get(ctx, req.RequesterID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != metastore.SessionActive {
		return nil, core.NewError(core.CodeConflict, "session is not active")
	}
	if sess.MaxMessages > 0 && sess.MessageCount >= sess.MaxMessages {
		return nil, core.NewError(core.CodeConflict, "session message limit reached")
	}

	// Deleted collections leave the session readable but inert.
	col, err := s.meta.GetCollection(ctx, sess.CollectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection deleted", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection deleted")
	}

	release, err := s.acquire(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	firstTurn := sess.MessageCount == 0

	// Context is built before the user message lands so the digest only
	// covers prior turns.
	built, err := s.ctxmgr.BuildContext(ctx, sess, question)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "building context", err)
	}

	msgType := metastore.TypeQuestion
	if built.FollowUp {
		msgType = metastore.TypeFollowUp
	}
	userMsg, err := s.meta.AppendMessage(ctx, &metastore.Message{
		SessionID:  sess.ID,
		Role:       metastore.RoleUser,
		Type:       msgType,
		Content:    question,
		TokenCount: s.counter.Count(question),
	})
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "appending user message", err)
	}
	s.ctxmgr.ObserveMessage(sess.ID, userMsg.Ordinal, question)

	out, err := s.searcher.Search(ctx, search.Request{
		UserID:       sess.OwnerID,
		CollectionID: sess.CollectionID,
		Question:     question,
		TopK:         req.TopK,
		Pipeline:     req.Pipeline,
		Augmentation: &built.Augmentation,
	})
	if err != nil {
		// The user message stays (append-only log); no partial answer is
		// persisted.
		return nil, err
	}

	meta, merr := json.Marshal(messageMeta{Sources: out.Sources, CorrelationID: out.CorrelationID})
	if merr != nil {
		meta = []byte("{}")
	}
	assistantMsg, err := s.meta.AppendMessage(ctx, &metastore.Message{
		SessionID:  sess.ID,
		Role:       metastore.RoleAssistant,
		Type:       metastore.TypeAnswer,
		Content:    out.Answer,
		TokenCount: s.counter.Count(out.Answer),
		Metadata:   string(meta),
	})
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "appending assistant message", err)
	}
	s.ctxmgr.ObserveMessage(sess.ID, assistantMsg.Ordinal, out.Answer)

	result := &TurnResult{
		UserMessage:      *userMsg,
		AssistantMessage: *assistantMsg,
		Search:           out,
		FollowUp:         built.FollowUp,
	}
	result.SummaryScheduled = s.postTurn(ctx, sess, question, firstTurn)
	return result, nil
}

// postTurn handles best-effort maintenance after a completed turn.
// Failures are logged, never surfaced: the answer is already committed.
func (s *Service) postTurn(ctx context.Context, sess *metastore.Session, question string, firstTurn bool) bool {
	if firstTurn && sess.Name == DefaultSessionName {
		s.autoName(ctx, sess, question)
	}

	should, err := s.ctxmgr.ShouldSummarize(ctx, sess.ID)
	if err != nil {
		s.logger.Warn("summarization check failed", zap.String("session_id", sess.ID), zap.Error(err))
		return false
	}
	if !should {
		return false
	}

	sessCopy := *sess
	_, err = s.sched.Submit(scheduler.Job{
		Kind:       "summarize_session",
		Key:        "summarize:" + sess.ID,
		MaxRetries: 2,
		Run: func(jobCtx context.Context) error {
			_, err := s.ctxmgr.Summarize(jobCtx, &sessCopy)
			return err
		},
	})
	if err != nil {
		s.logger.Warn("summarization scheduling failed", zap.String("session_id", sess.ID), zap.Error(err))
		return false
	}
	return true
}

// autoName asks the model for a short title after the first completed
// turn. Best effort: the placeholder name is kept on any failure.
func (s *Service) autoName(ctx context.Context, sess *metastore.Session, question string) {
	prompt := "Propose a title of at most six words for a conversation that starts with this question. " +
		"Return only the title, no quotes.\n\nQuestion: " + question

	user, err := s.meta.ResolveUserConfig(ctx, sess.OwnerID)
	if err != nil {
		s.logger.Warn("auto-naming skipped", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	out, err := s.generator.Generate(ctx, prompt, user.Parameters)
	if err != nil {
		s.logger.Warn("auto-naming failed", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}

	name := strings.Trim(strings.TrimSpace(out), `"'`)
	words := strings.Fields(name)
	if len(words) == 0 {
		return
	}
	if len(words) > maxAutoNameWords {
		words = words[:maxAutoNameWords]
	}
	name = strings.Join(words, " ")

	if err := s.meta.RenameSession(ctx, sess.ID, name); err != nil {
		s.logger.Warn("auto-naming rename failed", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	s.logger.Info("session auto-named",
		zap.String("session_id", sess.ID),
		zap.String("name", name),
	)
}
