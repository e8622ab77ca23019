package waiter

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"reviewloop/internal/labelstudio"
)

// ErrReviewTimeout is returned when reviewers do not finish every open task
// before the deadline. The run must be retried or investigated; dispatch
// dedup makes the retry safe.
var ErrReviewTimeout = errors.New("human review timed out")

// Waiter blocks until every open task in a project is annotated.
//
// Deprecated in spirit: the scheduled pipeline runs dispatch and sync as
// independent jobs and never blocks. The waiter only serves the one-shot
// approve run, where holding the job slot for up to MaxWait is acceptable.
type Waiter struct {
	ls           *labelstudio.Client
	maxWait      time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewWaiter creates a completion waiter. maxWait bounds the total wait;
// pollInterval is how often the incomplete count is re-checked.
func NewWaiter(ls *labelstudio.Client, maxWait, pollInterval time.Duration, logger *zap.Logger) *Waiter {
	return &Waiter{ls: ls, maxWait: maxWait, pollInterval: pollInterval, logger: logger}
}

// Wait polls the project's incomplete-task count until it reaches zero,
// returning ErrReviewTimeout once maxWait has elapsed. A maxWait of zero
// fails on the first check without sleeping.
func (w *Waiter) Wait(ctx context.Context, projectID int) error {
	deadline := time.Now().Add(w.maxWait)

	for {
		open, err := w.ls.ListTasksByCompletion(ctx, projectID, false)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			w.logger.Info("All review tasks annotated", zap.Int("project_id", projectID))
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrReviewTimeout
		}

		w.logger.Info("Waiting for reviewer annotations",
			zap.Int("project_id", projectID),
			zap.Int("open_tasks", len(open)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}
