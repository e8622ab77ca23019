package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "runs.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndRecent(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	now := time.Date(2025, 5, 12, 8, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(ctx, Entry{
		Stage:      "dispatch",
		StartedAt:  Timestamp(now),
		FinishedAt: Timestamp(now.Add(time.Second)),
		Status:     StatusOK,
		Detail:     "selected=3 imported=3",
	}))
	require.NoError(t, l.Append(ctx, Entry{
		Stage:      "sync",
		StartedAt:  Timestamp(now.Add(time.Minute)),
		FinishedAt: Timestamp(now.Add(time.Minute + time.Second)),
		Status:     StatusFailed,
		Error:      "label studio returned status 502",
	}))

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "sync", entries[0].Stage)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "label studio returned status 502", entries[0].Error)
	assert.Equal(t, "dispatch", entries[1].Stage)
	assert.Equal(t, "2025-05-12T08:00:00Z", entries[1].StartedAt)
}

func TestRecentHonorsLimit(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, Entry{
			Stage:      "sync",
			StartedAt:  Timestamp(time.Now()),
			FinishedAt: Timestamp(time.Now()),
			Status:     StatusOK,
		}))
	}

	entries, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
