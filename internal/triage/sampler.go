package triage

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"reviewloop/internal/models"
	"reviewloop/internal/objectstore"
)

// Config controls triage classification and sampling.
type Config struct {
	// Prefix is the object-store prefix holding session logs.
	Prefix string
	// SampleSize bounds how many sessions one run sends to review.
	SampleSize int
	// LowConfidenceThreshold classifies sessions strictly below it
	// as low confidence.
	LowConfidenceThreshold float64
}

// Result is the outcome of one triage scan. Selected is the bounded sample
// headed for human review; AllInWindow additionally keeps the non-selected
// feedback-tagged sessions so the archive step never re-scans the store.
type Result struct {
	Selected    []models.ReviewItem
	AllInWindow []models.ReviewItem

	LowConfidence int
	Disliked      int
	Other         int
}

// Sampler scans session logs in a time window and selects a bounded sample
// for human review.
type Sampler struct {
	store  objectstore.Store
	cfg    Config
	rnd    *rand.Rand
	logger *zap.Logger
}

// NewSampler creates a triage sampler. The random source drives sample
// reduction; tests pass a fixed seed for reproducible subsets.
func NewSampler(store objectstore.Store, cfg Config, rnd *rand.Rand, logger *zap.Logger) *Sampler {
	return &Sampler{store: store, cfg: cfg, rnd: rnd, logger: logger}
}

// Sample scans every session under the prefix and classifies those inside
// [start, end). Sessions without explicit feedback are skipped, as are
// unreadable or malformed objects.
func (s *Sampler) Sample(ctx context.Context, start, end time.Time) (*Result, error) {
	keys, err := s.store.List(ctx, s.cfg.Prefix)
	if err != nil {
		return nil, err
	}

	var lowConf, disliked, others []models.ReviewItem

	for _, key := range keys {
		item, class, ok := s.classify(ctx, key, start, end)
		if !ok {
			continue
		}
		switch class {
		case classLowConfidence:
			lowConf = append(lowConf, item)
		case classDisliked:
			disliked = append(disliked, item)
		default:
			others = append(others, item)
		}
	}

	selected := append(append([]models.ReviewItem{}, lowConf...), disliked...)
	if len(selected) > s.cfg.SampleSize {
		selected = s.subsample(selected, s.cfg.SampleSize)
	}

	all := append(append(append([]models.ReviewItem{}, lowConf...), disliked...), others...)

	s.logger.Info("Triage scan finished",
		zap.Int("low_confidence", len(lowConf)),
		zap.Int("disliked", len(disliked)),
		zap.Int("other", len(others)),
		zap.Int("selected", len(selected)))

	return &Result{
		Selected:      selected,
		AllInWindow:   all,
		LowConfidence: len(lowConf),
		Disliked:      len(disliked),
		Other:         len(others),
	}, nil
}

type class int

const (
	classLowConfidence class = iota
	classDisliked
	classOther
)

func (s *Sampler) classify(ctx context.Context, key string, start, end time.Time) (models.ReviewItem, class, bool) {
	var none models.ReviewItem

	tags, err := s.store.GetTags(ctx, key)
	if err != nil {
		s.logger.Warn("Skipping session, failed to read tags", zap.String("key", key), zap.Error(err))
		return none, 0, false
	}

	feedback := tags[models.TagFeedbackType]
	if feedback == "" || feedback == models.FeedbackNone {
		return none, 0, false
	}

	body, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Skipping session, failed to read body", zap.String("key", key), zap.Error(err))
		return none, 0, false
	}

	var sess models.SessionBody
	if err := json.Unmarshal(body, &sess); err != nil {
		s.logger.Warn("Skipping session, malformed body", zap.String("key", key), zap.Error(err))
		return none, 0, false
	}

	if sess.Timestamp == "" {
		return none, 0, false
	}
	ts, err := sess.ParsedTimestamp()
	if err != nil {
		s.logger.Warn("Skipping session, bad timestamp", zap.String("key", key), zap.Error(err))
		return none, 0, false
	}
	if ts.Before(start) || !ts.Before(end) {
		return none, 0, false
	}

	confidence := 1.0
	if raw := tags[models.TagConfidence]; raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			confidence = v
		}
	}

	item := models.ReviewItem{
		Key:        key,
		SessionID:  sess.SessionID,
		Prompt:     sess.Prompt,
		Response:   sess.Response,
		Confidence: confidence,
		Feedback:   feedback,
	}

	switch {
	case confidence < s.cfg.LowConfidenceThreshold:
		return item, classLowConfidence, true
	case feedback == models.FeedbackDislike:
		return item, classDisliked, true
	default:
		return item, classOther, true
	}
}

// subsample draws a uniform random subset of size n without replacement.
func (s *Sampler) subsample(items []models.ReviewItem, n int) []models.ReviewItem {
	picked := make([]models.ReviewItem, 0, n)
	for _, idx := range s.rnd.Perm(len(items))[:n] {
		picked = append(picked, items[idx])
	}
	return picked
}
