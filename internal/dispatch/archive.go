package dispatch

import (
	"context"

	"go.uber.org/zap"

	"reviewloop/internal/objectstore"
	"reviewloop/internal/triage"
)

// Archiver routes triaged sessions out of the production bucket: selected
// sessions are copied to the wait bucket, the non-selected remainder to the
// noisy bucket. Downstream dataset jobs read those buckets instead of
// re-scanning production.
type Archiver struct {
	store       objectstore.Store
	waitBucket  string
	noisyBucket string
	logger      *zap.Logger
}

// NewArchiver creates an archiver writing into the two routing buckets.
func NewArchiver(store objectstore.Store, waitBucket, noisyBucket string, logger *zap.Logger) *Archiver {
	return &Archiver{store: store, waitBucket: waitBucket, noisyBucket: noisyBucket, logger: logger}
}

// EnsureBuckets creates the routing buckets on first use.
func (a *Archiver) EnsureBuckets(ctx context.Context) error {
	for _, b := range []string{a.waitBucket, a.noisyBucket} {
		if err := a.store.EnsureBucket(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Archive copies every in-window session to its routing bucket.
func (a *Archiver) Archive(ctx context.Context, res *triage.Result) error {
	selected := make(map[string]struct{}, len(res.Selected))
	for _, item := range res.Selected {
		selected[item.Key] = struct{}{}
	}

	for _, item := range res.AllInWindow {
		target := a.noisyBucket
		if _, ok := selected[item.Key]; ok {
			target = a.waitBucket
		}
		if err := a.store.CopyTo(ctx, target, item.Key); err != nil {
			return err
		}
	}

	a.logger.Info("Archived triaged sessions",
		zap.Int("selected", len(res.Selected)),
		zap.Int("total", len(res.AllInWindow)))
	return nil
}
