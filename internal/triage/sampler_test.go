package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reviewloop/internal/models"
	"reviewloop/internal/objectstore"
)

const prefix = "conversation_logs/"

var (
	windowStart = time.Date(2025, 5, 12, 8, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC)
)

type sessionSpec struct {
	id         string
	feedback   string
	confidence string
	timestamp  string
}

func seedStore(t *testing.T, specs []sessionSpec) *objectstore.Memory {
	t.Helper()
	store := objectstore.NewMemory()
	ctx := context.Background()

	for _, spec := range specs {
		body, err := json.Marshal(models.SessionBody{
			Prompt:    "prompt for " + spec.id,
			Response:  "response for " + spec.id,
			Timestamp: spec.timestamp,
			SessionID: spec.id,
		})
		require.NoError(t, err)

		key := prefix + spec.id + ".json"
		require.NoError(t, store.Put(ctx, key, body, "application/json"))

		tags := map[string]string{models.TagStatus: models.StatusNeedsReview}
		if spec.feedback != "" {
			tags[models.TagFeedbackType] = spec.feedback
		}
		if spec.confidence != "" {
			tags[models.TagConfidence] = spec.confidence
		}
		require.NoError(t, store.PutTags(ctx, key, tags))
	}
	return store
}

func newSampler(store objectstore.Store, sampleSize int, seed int64) *Sampler {
	return NewSampler(store, Config{
		Prefix:                 prefix,
		SampleSize:             sampleSize,
		LowConfidenceThreshold: 0.7,
	}, rand.New(rand.NewSource(seed)), zap.NewNop())
}

func inWindow(min int) string {
	return windowStart.Add(time.Duration(min) * time.Minute).Format(time.RFC3339)
}

func TestSampleSkipsSessionsWithoutFeedback(t *testing.T) {
	store := seedStore(t, []sessionSpec{
		{id: "a", feedback: models.FeedbackNone, confidence: "0.1", timestamp: inWindow(5)},
		{id: "b", feedback: "", confidence: "0.1", timestamp: inWindow(5)},
		{id: "c", feedback: models.FeedbackLike, confidence: "0.9", timestamp: inWindow(5)},
	})

	res, err := newSampler(store, 5, 1).Sample(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	assert.Empty(t, res.Selected)
	require.Len(t, res.AllInWindow, 1)
	assert.Equal(t, prefix+"c.json", res.AllInWindow[0].Key)
}

func TestSampleThresholdIsStrict(t *testing.T) {
	store := seedStore(t, []sessionSpec{
		{id: "at-threshold", feedback: models.FeedbackLike, confidence: "0.7", timestamp: inWindow(1)},
		{id: "below", feedback: models.FeedbackLike, confidence: "0.69", timestamp: inWindow(2)},
	})

	res, err := newSampler(store, 5, 1).Sample(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	assert.Equal(t, 1, res.LowConfidence)
	assert.Equal(t, 1, res.Other)
	require.Len(t, res.Selected, 1)
	assert.Equal(t, prefix+"below.json", res.Selected[0].Key)
}

func TestSampleDislikedAboveThresholdSelected(t *testing.T) {
	store := seedStore(t, []sessionSpec{
		{id: "d", feedback: models.FeedbackDislike, confidence: "0.95", timestamp: inWindow(3)},
	})

	res, err := newSampler(store, 5, 1).Sample(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Disliked)
	require.Len(t, res.Selected, 1)
	assert.Equal(t, models.FeedbackDislike, res.Selected[0].Feedback)
}

func TestSampleBoundAndSeedReproducibility(t *testing.T) {
	var specs []sessionSpec
	for i := 0; i < 12; i++ {
		specs = append(specs, sessionSpec{
			id:         fmt.Sprintf("s%02d", i),
			feedback:   models.FeedbackDislike,
			confidence: "0.2",
			timestamp:  inWindow(i),
		})
	}
	store := seedStore(t, specs)

	res1, err := newSampler(store, 5, 42).Sample(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, res1.Selected, 5)
	assert.Len(t, res1.AllInWindow, 12)

	// Same seed, same subset.
	res2, err := newSampler(store, 5, 42).Sample(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	keys := func(items []models.ReviewItem) []string {
		var out []string
		for _, it := range items {
			out = append(out, it.Key)
		}
		return out
	}
	assert.Equal(t, keys(res1.Selected), keys(res2.Selected))

	// No duplicates in the subset.
	seen := make(map[string]bool)
	for _, it := range res1.Selected {
		assert.False(t, seen[it.Key], "duplicate %s", it.Key)
		seen[it.Key] = true
	}
}

func TestSampleWindowFiltering(t *testing.T) {
	store := seedStore(t, []sessionSpec{
		{id: "before", feedback: models.FeedbackDislike, confidence: "0.2", timestamp: windowStart.Add(-time.Minute).Format(time.RFC3339)},
		{id: "at-start", feedback: models.FeedbackDislike, confidence: "0.2", timestamp: windowStart.Format(time.RFC3339)},
		{id: "at-end", feedback: models.FeedbackDislike, confidence: "0.2", timestamp: windowEnd.Format(time.RFC3339)},
		{id: "no-timestamp", feedback: models.FeedbackDislike, confidence: "0.2", timestamp: ""},
	})

	res, err := newSampler(store, 5, 1).Sample(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	// [start, end): the start boundary is in, the end boundary is out.
	require.Len(t, res.Selected, 1)
	assert.Equal(t, prefix+"at-start.json", res.Selected[0].Key)
}

func TestSampleSkipsMalformedObjects(t *testing.T) {
	store := seedStore(t, []sessionSpec{
		{id: "good", feedback: models.FeedbackDislike, confidence: "0.2", timestamp: inWindow(5)},
	})
	ctx := context.Background()

	key := prefix + "broken.json"
	require.NoError(t, store.Put(ctx, key, []byte("{not json"), "application/json"))
	require.NoError(t, store.PutTags(ctx, key, map[string]string{
		models.TagFeedbackType: models.FeedbackDislike,
	}))

	res, err := newSampler(store, 5, 1).Sample(ctx, windowStart, windowEnd)
	require.NoError(t, err)

	require.Len(t, res.Selected, 1)
	assert.Equal(t, prefix+"good.json", res.Selected[0].Key)
}

func TestSampleMissingConfidenceDefaultsHigh(t *testing.T) {
	store := seedStore(t, []sessionSpec{
		{id: "no-conf", feedback: models.FeedbackLike, timestamp: inWindow(5)},
	})

	res, err := newSampler(store, 5, 1).Sample(context.Background(), windowStart, windowEnd)
	require.NoError(t, err)

	assert.Equal(t, 0, res.LowConfidence)
	assert.Equal(t, 1, res.Other)
	assert.Empty(t, res.Selected)
}
