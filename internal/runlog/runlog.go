package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // sqlite driver
)

// Stage run outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Entry is one recorded pipeline stage run.
type Entry struct {
	ID          int64  `db:"id"`
	Stage       string `db:"stage"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
	Status      string `db:"status"`
	Detail      string `db:"detail"`
	Error       string `db:"error"`
	WindowStart string `db:"window_start"`
	WindowEnd   string `db:"window_end"`
}

// Log is the pipeline run history, kept in a local sqlite file so operators
// can inspect past stage runs without the scheduler's UI.
type Log struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (and if needed initializes) the run log database.
func Open(path string, logger *zap.Logger) (*Log, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stage TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		window_start TEXT NOT NULL DEFAULT '',
		window_end TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate run log: %w", err)
	}

	return &Log{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Append records one finished stage run.
func (l *Log) Append(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (stage, started_at, finished_at, status, detail, error, window_start, window_end)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Stage, e.StartedAt, e.FinishedAt, e.Status, e.Detail, e.Error, e.WindowStart, e.WindowEnd)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.SelectContext(ctx, &entries,
		`SELECT * FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return entries, nil
}

// Timestamp formats a run timestamp the way the log stores it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
