package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reviewloop/internal/labelstudio"
	"reviewloop/internal/labelstudio/lstest"
	"reviewloop/internal/models"
	"reviewloop/internal/objectstore"
	"reviewloop/internal/triage"
)

const projectTitle = "LLM Doctor Review"

func newDispatcher(t *testing.T) (*Dispatcher, *lstest.Server) {
	t.Helper()
	ls := lstest.New(t)
	client := labelstudio.NewClient(ls.URL(), "test-token", zap.NewNop())
	return NewDispatcher(client, projectTitle, zap.NewNop()), ls
}

func items(keys ...string) []models.ReviewItem {
	var out []models.ReviewItem
	for _, k := range keys {
		out = append(out, models.ReviewItem{
			Key:      k,
			Prompt:   "p-" + k,
			Response: "r-" + k,
			Feedback: models.FeedbackDislike,
		})
	}
	return out
}

func TestDispatchCreatesProjectAndImports(t *testing.T) {
	d, ls := newDispatcher(t)

	imported, err := d.Dispatch(context.Background(), items("logs/a.json", "logs/b.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	projectID, err := d.ProjectID(context.Background())
	require.NoError(t, err)

	tasks := ls.Tasks(projectID)
	require.Len(t, tasks, 2)
	assert.Equal(t, "logs/a.json", tasks[0].Meta["s3_key"])
	assert.Equal(t, models.FeedbackDislike, tasks[0].Meta["feedback"])
	assert.Equal(t, "p-logs/a.json", tasks[0].Data["prompt"])
}

func TestDispatchIsIdempotent(t *testing.T) {
	d, ls := newDispatcher(t)
	selected := items("logs/a.json", "logs/b.json", "logs/c.json")

	first, err := d.Dispatch(context.Background(), selected)
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	// Second run with the same selection imports nothing.
	second, err := d.Dispatch(context.Background(), selected)
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	projectID, err := d.ProjectID(context.Background())
	require.NoError(t, err)
	assert.Len(t, ls.Tasks(projectID), 3)
}

func TestDispatchSkipsAlreadyLinkedKeys(t *testing.T) {
	d, ls := newDispatcher(t)

	_, err := d.Dispatch(context.Background(), items("logs/a.json"))
	require.NoError(t, err)

	imported, err := d.Dispatch(context.Background(), items("logs/a.json", "logs/new.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	projectID, err := d.ProjectID(context.Background())
	require.NoError(t, err)
	assert.Len(t, ls.Tasks(projectID), 2)
}

func TestDispatchEmptySelectionIsNoOp(t *testing.T) {
	d, _ := newDispatcher(t)

	imported, err := d.Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)

	// The project is still created so sync can resolve it later.
	_, err = d.ProjectID(context.Background())
	assert.NoError(t, err)
}

func TestArchiveRoutesByBucket(t *testing.T) {
	store := objectstore.NewMemory()
	ctx := context.Background()

	for _, key := range []string{"logs/sel.json", "logs/other.json"} {
		require.NoError(t, store.Put(ctx, key, []byte("{}"), "application/json"))
	}

	a := NewArchiver(store, "wait", "noisy", zap.NewNop())
	require.NoError(t, a.EnsureBuckets(ctx))

	res := &triage.Result{
		Selected: items("logs/sel.json"),
		AllInWindow: append(items("logs/sel.json"),
			models.ReviewItem{Key: "logs/other.json", Feedback: models.FeedbackLike}),
	}
	require.NoError(t, a.Archive(ctx, res))

	assert.Equal(t, []string{"logs/sel.json"}, store.BucketKeys("wait"))
	assert.Equal(t, []string{"logs/other.json"}, store.BucketKeys("noisy"))
}
