package llm

import (
	"context"
	"sync"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

// Scripted is a Generator for tests: it replays queued responses in
// order and records every prompt it saw.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	Prompts   []string
}

var _ Generator = (*Scripted)(nil)

// NewScripted queues the given responses.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Responses queues additional responses.
func (s *Scripted) Responses(responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// QueueError makes the next call fail with err.
func (s *Scripted) QueueError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *Scripted) Generate(ctx context.Context, prompt string, params metastore.LLMParameters) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, prompt)

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	if len(s.responses) == 0 {
		return "", core.NewError(core.CodeDependencyUnavailable, "no scripted response queued")
	}
	out := s.responses[0]
	s.responses = s.responses[1:]
	return out, nil
}
