// Package scheduler runs background jobs on a bounded worker pool.
//
// Jobs carry an idempotency key: resubmitting the same key while a prior
// submission is pending, running, or recently finished returns the
// existing job instead of enqueueing a duplicate. Failed jobs retry with
// exponential backoff and jitter when the error is retryable.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/identity"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one unit of background work.
type Job struct {
	// Kind names the job type for logs and events.
	Kind string
	// Key is the idempotency key. Empty keys never deduplicate.
	Key string
	// MaxRetries bounds retry attempts after the first run.
	MaxRetries int
	// Run does the work. A retryable error (rate limit, dependency
	// unavailable) triggers backoff and retry; anything else fails the
	// job immediately.
	Run func(ctx context.Context) error
}

// Record is the observable state of a submitted job.
type Record struct {
	ID         string
	Kind       string
	Key        string
	Status     Status
	Attempts   int
	Error      string
	EnqueuedAt time.Time
	FinishedAt time.Time
}

// Config tunes the pool.
type Config struct {
	Workers        int
	QueueSize      int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	IdempotencyTTL time.Duration
}

// Publisher receives job status transitions. Implementations must not
// block; publishing failures are logged and ignored.
type Publisher interface {
	JobStatusChanged(rec Record)
}

type task struct {
	id  string
	job Job
}

// Scheduler owns the worker pool.
type Scheduler struct {
	config    Config
	logger    *zap.Logger
	publisher Publisher

	queue chan task

	mu      sync.Mutex
	records map[string]*Record // job ID -> record
	byKey   map[string]string  // idempotency key -> job ID

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler; call Start before submitting.
func New(config Config, publisher Publisher, logger *zap.Logger) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 30 * time.Second
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config:    config,
		logger:    logger,
		publisher: publisher,
		queue:     make(chan task, config.QueueSize),
		records:   make(map[string]*Record),
		byKey:     make(map[string]string),
	}
}

// Start launches the workers.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	s.logger.Info("scheduler started", zap.Int("workers", s.config.Workers))
}

// Stop drains the workers. Queued jobs that have not started are dropped.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.logger.Info("scheduler stopped")
}

// Submit enqueues a job. A duplicate idempotency key returns the prior
// job's ID with no new work scheduled. A full queue fails with a
// rate-limited error rather than blocking the caller.
func (s *Scheduler) Submit(job Job) (string, error) {
	s.mu.Lock()
	if job.Key != "" {
		if id, ok := s.byKey[job.Key]; ok {
			s.mu.Unlock()
			return id, nil
		}
	}

	id := identity.NewID()
	rec := &Record{
		ID:         id,
		Kind:       job.Kind,
		Key:        job.Key,
		Status:     StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}
	s.records[id] = rec
	if job.Key != "" {
		s.byKey[job.Key] = id
	}
	s.mu.Unlock()

	select {
	case s.queue <- task{id: id, job: job}:
		s.publish(*rec)
		return id, nil
	default:
		s.mu.Lock()
		delete(s.records, id)
		if job.Key != "" {
			delete(s.byKey, job.Key)
		}
		s.mu.Unlock()
		return "", core.NewError(core.CodeRateLimited, "job queue full")
	}
}

// Lookup returns a copy of the job record.
func (s *Scheduler) Lookup(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			s.execute(ctx, t)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t task) {
	s.transition(t.id, StatusRunning, "")

	var err error
	for attempt := 0; ; attempt++ {
		s.mu.Lock()
		if rec, ok := s.records[t.id]; ok {
			rec.Attempts = attempt + 1
		}
		s.mu.Unlock()

		err = t.job.Run(ctx)
		if err == nil || !core.Retryable(err) || attempt >= t.job.MaxRetries {
			break
		}

		delay := s.backoff(attempt)
		s.logger.Warn("job failed, retrying",
			zap.String("job_id", t.id),
			zap.String("kind", t.job.Kind),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			s.finish(t, StatusFailed, ctx.Err().Error())
			return
		case <-time.After(delay):
		}
	}

	if err != nil {
		s.logger.Error("job failed",
			zap.String("job_id", t.id),
			zap.String("kind", t.job.Kind),
			zap.Error(err),
		)
		s.finish(t, StatusFailed, err.Error())
		return
	}
	s.finish(t, StatusSucceeded, "")
}

// backoff returns base*2^attempt capped at max, with up to 25% jitter.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.config.BackoffBase << uint(attempt)
	if d > s.config.BackoffMax || d <= 0 {
		d = s.config.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func (s *Scheduler) transition(id string, status Status, errMsg string) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		rec.Status = status
		rec.Error = errMsg
	}
	var copied Record
	if ok {
		copied = *rec
	}
	s.mu.Unlock()
	if ok {
		s.publish(copied)
	}
}

func (s *Scheduler) finish(t task, status Status, errMsg string) {
	s.mu.Lock()
	rec, ok := s.records[t.id]
	var copied Record
	if ok {
		rec.Status = status
		rec.Error = errMsg
		rec.FinishedAt = time.Now().UTC()
		copied = *rec
	}
	s.mu.Unlock()
	if ok {
		s.publish(copied)
	}

	// The idempotency key outlives the job by the TTL so rapid
	// resubmissions keep deduplicating, then both key and record expire.
	key := t.job.Key
	id := t.id
	time.AfterFunc(s.config.IdempotencyTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if key != "" {
			if cur, ok := s.byKey[key]; ok && cur == id {
				delete(s.byKey, key)
			}
		}
		delete(s.records, id)
	})
}

func (s *Scheduler) publish(rec Record) {
	if s.publisher != nil {
		s.publisher.JobStatusChanged(rec)
	}
}
