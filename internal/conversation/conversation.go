// Package conversation owns durable multi-turn sessions: lifecycle,
// the turn algorithm that merges conversation context into the search
// pipeline, auto-naming, summarization scheduling, and export.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/contextmgr"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/identity"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
	"github.com/manavgup/rag-modulo-sub005/internal/secrets"
)

// DefaultSessionName is the placeholder replaced by auto-naming after
// the first completed turn.
const DefaultSessionName = "New Conversation"

// Service owns conversation sessions.
type Service struct {
	meta      *metastore.Store
	ctxmgr    *contextmgr.Manager
	searcher  *search.Service
	generator llm.Generator
	sched     *scheduler.Scheduler
	scrubber  *secrets.Scrubber
	counter   *chunker.Counter
	logger    *zap.Logger
	config    config.ConversationConfig

	// locks serialize turns per session; the channel doubles as a timed
	// semaphore so waiters can give up with "session busy".
	locks sync.Map
}

// NewService wires the conversation service.
func NewService(meta *metastore.Store, ctxmgr *contextmgr.Manager, searcher *search.Service,
	generator llm.Generator, sched *scheduler.Scheduler, cfg config.ConversationConfig,
	logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, err := chunker.NewCounter("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return &Service{
		meta:      meta,
		ctxmgr:    ctxmgr,
		searcher:  searcher,
		generator: generator,
		sched:     sched,
		scrubber:  secrets.NewScrubber(),
		counter:   counter,
		logger:    logger,
		config:    cfg,
	}, nil
}

// CreateRequest describes a new session.
type CreateRequest struct {
	OwnerID      string
	CollectionID string
	Name         string
}

// Create opens a session bound to a collection the owner can read.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*metastore.Session, error) {
	if req.OwnerID == "" {
		return nil, core.NewError(core.CodeInvalidInput, "owner is required")
	}
	col, err := s.meta.GetCollection(ctx, req.CollectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}
	if col.Privacy != metastore.PrivacyPublic && col.OwnerID != req.OwnerID {
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultSessionName
	}

	sess := &metastore.Session{
		ID:                  identity.NewID(),
		OwnerID:             req.OwnerID,
		CollectionID:        col.ID,
		Name:                name,
		Status:              metastore.SessionActive,
		ContextWindowTokens: s.config.ContextWindowTokens,
		MaxMessages:         s.config.MaxMessages,
	}
	if err := s.meta.CreateSession(ctx, sess); err != nil {
		return nil, core.WrapError(core.CodeInternal, "creating session", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("collection_id", col.ID),
		zap.String("owner_id", req.OwnerID),
	)
	return sess, nil
}

// Get returns a session the requester owns.
func (s *Service) Get(ctx context.Context, requesterID, sessionID string) (*metastore.Session, error) {
	sess, err := s.meta.GetSession(ctx, sessionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "session not found", err)
	}
	if sess.OwnerID != requesterID || sess.Status == metastore.SessionDeleted {
		return nil, core.NewError(core.CodeNotFound, "session not found")
	}
	return sess, nil
}

// List returns the requester's sessions, most recently active first.
func (s *Service) List(ctx context.Context, requesterID string) ([]*metastore.Session, error) {
	out, err := s.meta.ListSessions(ctx, requesterID)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "listing sessions", err)
	}
	return out, nil
}

// Rename changes the session display name.
func (s *Service) Rename(ctx context.Context, requesterID, sessionID, name string) error {
	sess, err := s.Get(ctx, requesterID, sessionID)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.NewError(core.CodeInvalidInput, "session name is required")
	}
	if err := s.meta.RenameSession(ctx, sess.ID, name); err != nil {
		return core.WrapError(core.CodeInternal, "renaming session", err)
	}
	return nil
}

// Archive freezes a session; archived sessions are readable but take no
// further turns.
func (s *Service) Archive(ctx context.Context, requesterID, sessionID string) error {
	sess, err := s.Get(ctx, requesterID, sessionID)
	if err != nil {
		return err
	}
	if err := s.meta.SetSessionStatus(ctx, sess.ID, metastore.SessionArchived); err != nil {
		return core.WrapError(core.CodeInternal, "archiving session", err)
	}
	return nil
}

// Delete marks the session deleted and drops its cached context state.
// Message rows stay for audit.
func (s *Service) Delete(ctx context.Context, requesterID, sessionID string) error {
	sess, err := s.Get(ctx, requesterID, sessionID)
	if err != nil {
		return err
	}
	if err := s.meta.SetSessionStatus(ctx, sess.ID, metastore.SessionDeleted); err != nil {
		return core.WrapError(core.CodeInternal, "deleting session", err)
	}
	s.ctxmgr.Forget(sess.ID)
	return nil
}

// ExpireIdle transitions sessions idle for longer than the configured
// expiry to expired. Run from a cron janitor, never from reads.
func (s *Service) ExpireIdle(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.config.IdleExpiry)
	n, err := s.meta.ExpireIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("idle sessions expired", zap.Int("count", n))
	}
	return n, nil
}

// acquire takes the per-session turn lock, waiting up to the configured
// busy timeout.
func (s *Service) acquire(ctx context.Context, sessionID string) (func(), error) {
	v, _ := s.locks.LoadOrStore(sessionID, make(chan struct{}, 1))
	ch := v.(chan struct{})

	timeout := s.config.SessionBusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, core.NewError(core.CodeConflict, "session busy")
	case <-ctx.Done():
		return nil, core.WrapError(core.CodeCancelled, "waiting for session lock", ctx.Err())
	}
}
