package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitors runs periodic maintenance tasks on cron schedules. Standard
// five-field expressions and descriptors like "@every 1h" are accepted.
type Janitors struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewJanitors returns a stopped janitor runner.
func NewJanitors(logger *zap.Logger) *Janitors {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitors{cron: cron.New(), logger: logger}
}

// Register schedules fn. Each run gets a fresh context bounded by the
// given timeout; a failing run logs and waits for the next tick.
func (j *Janitors) Register(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := j.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		if err := fn(ctx); err != nil {
			j.logger.Error("janitor run failed",
				zap.String("janitor", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		j.logger.Debug("janitor run complete",
			zap.String("janitor", name),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("registering janitor %s: %w", name, err)
	}
	return nil
}

// Start begins ticking.
func (j *Janitors) Start() {
	j.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs.
func (j *Janitors) Stop() {
	<-j.cron.Stop().Done()
}
