package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"reviewloop/internal/dispatch"
	"reviewloop/internal/notify"
	"reviewloop/internal/runlog"
	"reviewloop/internal/syncer"
	"reviewloop/internal/triage"
	"reviewloop/internal/waiter"
)

// Stage names recorded in the run log.
const (
	StageDispatch = "dispatch"
	StageSync     = "sync"
	StageApprove  = "approve"
)

// Config carries the scheduling knobs.
type Config struct {
	// DispatchSchedule and SyncSchedule are cron specs for the two
	// independent periodic jobs.
	DispatchSchedule string
	SyncSchedule     string
	// Window is the trailing triage window used for the first scheduled
	// tick and for manual runs.
	Window time.Duration
}

// Pipeline wires the review stages together and drives them on a cadence.
// Every stage is idempotent, so a failed run is simply retried at the next
// tick.
type Pipeline struct {
	sampler    *triage.Sampler
	archiver   *dispatch.Archiver
	dispatcher *dispatch.Dispatcher
	waiter     *waiter.Waiter
	syncer     *syncer.Syncer
	runs       *runlog.Log
	notifier   *notify.Notifier
	logger     *zap.Logger
	cfg        Config

	mu           sync.Mutex
	lastDispatch time.Time
}

// New assembles the pipeline. notifier may be nil; runs may be nil when no
// run history is wanted (one-shot CLI invocations).
func New(
	sampler *triage.Sampler,
	archiver *dispatch.Archiver,
	dispatcher *dispatch.Dispatcher,
	w *waiter.Waiter,
	s *syncer.Syncer,
	runs *runlog.Log,
	notifier *notify.Notifier,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		sampler:    sampler,
		archiver:   archiver,
		dispatcher: dispatcher,
		waiter:     w,
		syncer:     s,
		runs:       runs,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// RunDispatch executes one triage → archive → dispatch pass over the given
// window.
func (p *Pipeline) RunDispatch(ctx context.Context, start, end time.Time) error {
	began := time.Now()

	res, err := p.sampler.Sample(ctx, start, end)
	if err != nil {
		p.record(ctx, StageDispatch, began, start, end, "", err)
		return fmt.Errorf("triage failed: %w", err)
	}

	if err := p.archiver.EnsureBuckets(ctx); err != nil {
		p.record(ctx, StageDispatch, began, start, end, "", err)
		return fmt.Errorf("failed to ensure buckets: %w", err)
	}
	if err := p.archiver.Archive(ctx, res); err != nil {
		p.record(ctx, StageDispatch, began, start, end, "", err)
		return fmt.Errorf("archive failed: %w", err)
	}

	imported, err := p.dispatcher.Dispatch(ctx, res.Selected)
	if err != nil {
		p.record(ctx, StageDispatch, began, start, end, "", err)
		return fmt.Errorf("dispatch failed: %w", err)
	}

	detail := fmt.Sprintf("selected=%d imported=%d low=%d disliked=%d other=%d",
		len(res.Selected), imported, res.LowConfidence, res.Disliked, res.Other)
	p.record(ctx, StageDispatch, began, start, end, detail, nil)

	if imported > 0 {
		p.notifier.Dispatched(imported)
	}
	return nil
}

// RunSync executes one verdict sync pass.
func (p *Pipeline) RunSync(ctx context.Context) error {
	began := time.Now()

	applied, err := p.syncer.Sync(ctx)
	if err != nil {
		p.record(ctx, StageSync, began, time.Time{}, time.Time{}, "", err)
		return err
	}

	p.record(ctx, StageSync, began, time.Time{}, time.Time{}, fmt.Sprintf("applied=%d", applied), nil)
	if applied > 0 {
		p.notifier.Synced(applied)
	}
	return nil
}

// RunApprove chains triage → dispatch → wait → sync in one blocking run.
// This is the deprecated one-shot path; the scheduled mode keeps dispatch
// and sync as independent jobs instead.
func (p *Pipeline) RunApprove(ctx context.Context, start, end time.Time) error {
	began := time.Now()

	if err := p.RunDispatch(ctx, start, end); err != nil {
		return err
	}

	projectID, err := p.dispatcher.ProjectID(ctx)
	if err != nil {
		p.record(ctx, StageApprove, began, start, end, "", err)
		return err
	}

	if err := p.waiter.Wait(ctx, projectID); err != nil {
		p.record(ctx, StageApprove, began, start, end, "", err)
		if errors.Is(err, waiter.ErrReviewTimeout) {
			p.notifier.Timeout()
		}
		return err
	}

	if err := p.RunSync(ctx); err != nil {
		return err
	}
	p.record(ctx, StageApprove, began, start, end, "completed", nil)
	return nil
}

// Schedule runs the dispatch and sync jobs on their cron cadence until the
// context is cancelled. The triage window of each dispatch tick is
// [previous successful tick, now); the first tick falls back to the
// trailing window.
func (p *Pipeline) Schedule(ctx context.Context) error {
	c := cron.New()

	_, err := c.AddFunc(p.cfg.DispatchSchedule, func() {
		if err := p.dispatchTick(ctx); err != nil {
			p.logger.Error("Dispatch job failed, will retry next tick", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid dispatch schedule %q: %w", p.cfg.DispatchSchedule, err)
	}

	_, err = c.AddFunc(p.cfg.SyncSchedule, func() {
		if err := p.RunSync(ctx); err != nil {
			p.logger.Error("Sync job failed, will retry next tick", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", p.cfg.SyncSchedule, err)
	}

	p.logger.Info("Pipeline scheduler started",
		zap.String("dispatch_schedule", p.cfg.DispatchSchedule),
		zap.String("sync_schedule", p.cfg.SyncSchedule))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info("Pipeline scheduler stopped.")
	return nil
}

// dispatchTick runs one scheduled dispatch over [previous successful tick,
// now). The window marker only moves forward on success, so a tick that
// fails on a transient error leaves its interval to be re-scanned by the
// next tick instead of dropping it.
func (p *Pipeline) dispatchTick(ctx context.Context) error {
	start, end := p.pendingWindow()
	if err := p.RunDispatch(ctx, start, end); err != nil {
		return err
	}
	p.commitWindow(end)
	return nil
}

// pendingWindow returns [previous committed tick, now) without moving the
// marker. The first tick falls back to the configured trailing window.
func (p *Pipeline) pendingWindow() (time.Time, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	end := time.Now().UTC()
	start := p.lastDispatch
	if start.IsZero() {
		start = end.Add(-p.cfg.Window)
	}
	return start, end
}

func (p *Pipeline) commitWindow(end time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastDispatch = end
}

func (p *Pipeline) record(ctx context.Context, stage string, began, winStart, winEnd time.Time, detail string, runErr error) {
	if p.runs == nil {
		return
	}

	e := runlog.Entry{
		Stage:      stage,
		StartedAt:  runlog.Timestamp(began),
		FinishedAt: runlog.Timestamp(time.Now()),
		Status:     runlog.StatusOK,
		Detail:     detail,
	}
	if !winStart.IsZero() {
		e.WindowStart = runlog.Timestamp(winStart)
		e.WindowEnd = runlog.Timestamp(winEnd)
	}
	if runErr != nil {
		e.Status = runlog.StatusFailed
		e.Error = runErr.Error()
	}

	if err := p.runs.Append(ctx, e); err != nil {
		p.logger.Error("Failed to record pipeline run", zap.Error(err))
	}
}
