package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reviewloop/internal/config"
	"reviewloop/internal/dispatch"
	"reviewloop/internal/generation"
	"reviewloop/internal/labelstudio"
	"reviewloop/internal/notify"
	"reviewloop/internal/objectstore"
	"reviewloop/internal/pipeline"
	"reviewloop/internal/runlog"
	"reviewloop/internal/server"
	"reviewloop/internal/syncer"
	"reviewloop/internal/triage"
	"reviewloop/internal/waiter"
)

var (
	cfgPath string
	debug   bool
	window  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "reviewloop",
		Short:         "Human-in-the-loop review pipeline for LLM answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yml", "path to config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "use development logging")

	windowFlag := func(cmd *cobra.Command) {
		cmd.Flags().DurationVar(&window, "window", 30*time.Minute, "trailing triage window")
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the serving-layer HTTP API",
		RunE:  runServe,
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the dispatch and sync jobs on their cron cadence",
		RunE:  runSchedule,
	}

	triageCmd := &cobra.Command{
		Use:   "triage",
		Short: "Scan one window and print the triage summary without dispatching",
		RunE:  runTriage,
	}
	windowFlag(triageCmd)

	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Triage one window and import the sample for review",
		RunE:  runDispatch,
	}
	windowFlag(dispatchCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync completed verdicts back into session tags",
		RunE:  runSync,
	}

	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Blocking one-shot: dispatch, wait for reviewers, sync",
		RunE:  runApprove,
	}
	windowFlag(approveCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent pipeline runs",
		RunE:  runRuns,
	}

	root.AddCommand(serveCmd, scheduleCmd, triageCmd, dispatchCmd, syncCmd, approveCmd, runsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs, wired once from config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *objectstore.MinioStore
	ls       *labelstudio.Client
	sampler  *triage.Sampler
	pipeline *pipeline.Pipeline
	runs     *runlog.Log
}

func newApp(withRunLog bool) (*app, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	store, err := objectstore.NewMinioStore(objectstore.MinioConfig{
		Endpoint:  cfg.Store.Endpoint,
		AccessKey: cfg.Store.AccessKey,
		SecretKey: cfg.Store.SecretKey,
		UseSSL:    cfg.Store.UseSSL,
		Bucket:    cfg.Store.Bucket,
	}, logger)
	if err != nil {
		return nil, err
	}

	ls := labelstudio.NewClient(cfg.LabelStudio.URL, cfg.LabelStudio.Token, logger)

	seed := cfg.Triage.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sampler := triage.NewSampler(store, triage.Config{
		Prefix:                 cfg.Store.Prefix,
		SampleSize:             cfg.Triage.SampleSize,
		LowConfidenceThreshold: cfg.Triage.LowConfidenceThreshold,
	}, rand.New(rand.NewSource(seed)), logger)

	archiver := dispatch.NewArchiver(store, cfg.Store.WaitBucket, cfg.Store.NoisyBucket, logger)
	dispatcher := dispatch.NewDispatcher(ls, cfg.LabelStudio.ProjectTitle, logger)
	w := waiter.NewWaiter(ls,
		time.Duration(cfg.Waiter.MaxWaitMinutes)*time.Minute,
		time.Duration(cfg.Waiter.PollIntervalSeconds)*time.Second,
		logger)
	verdictSync := syncer.NewSyncer(ls, store, cfg.LabelStudio.ProjectTitle, logger)

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		notifier, err = notify.New(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID, logger)
		if err != nil {
			logger.Warn("Failed to initialize notifier, continuing without it", zap.Error(err))
			notifier = nil
		}
	}

	var runs *runlog.Log
	if withRunLog {
		runs, err = runlog.Open(cfg.Pipeline.RunLogPath, logger)
		if err != nil {
			return nil, err
		}
	}

	p := pipeline.New(sampler, archiver, dispatcher, w, verdictSync, runs, notifier, pipeline.Config{
		DispatchSchedule: cfg.Pipeline.DispatchSchedule,
		SyncSchedule:     cfg.Pipeline.SyncSchedule,
		Window:           time.Duration(cfg.Triage.WindowMinutes) * time.Minute,
	}, logger)

	return &app{cfg: cfg, logger: logger, store: store, ls: ls, sampler: sampler, pipeline: p, runs: runs}, nil
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (a *app) close() {
	if a.runs != nil {
		_ = a.runs.Close()
	}
	_ = a.logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func trailingWindow() (time.Time, time.Time) {
	end := time.Now().UTC()
	return end.Add(-window), end
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	gen := generation.NewClient(a.cfg.Generation.URL)
	srv := server.NewServer(a.store, gen, a.cfg.Store.Prefix, a.logger)
	srv.Run(a.cfg.Server.Port)
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()
	return a.pipeline.Schedule(ctx)
}

func runTriage(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	start, end := trailingWindow()
	res, err := a.sampler.Sample(ctx, start, end)
	if err != nil {
		return err
	}

	fmt.Printf("window: %s .. %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	fmt.Printf("low_confidence=%d disliked=%d other=%d selected=%d\n",
		res.LowConfidence, res.Disliked, res.Other, len(res.Selected))
	for _, item := range res.Selected {
		fmt.Printf("  %s (feedback=%s confidence=%.2f)\n", item.Key, item.Feedback, item.Confidence)
	}
	return nil
}

func runDispatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	start, end := trailingWindow()
	return a.pipeline.RunDispatch(ctx, start, end)
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()
	return a.pipeline.RunSync(ctx)
}

func runApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	start, end := trailingWindow()
	return a.pipeline.RunApprove(ctx, start, end)
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.runs.Recent(cmd.Context(), 20)
	if err != nil {
		return err
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-8s  %-6s  %s", e.StartedAt, e.Stage, e.Status, e.Detail)
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		fmt.Println(line)
	}
	return nil
}
