package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"reviewloop/internal/labelstudio"
	"reviewloop/internal/models"
	"reviewloop/internal/objectstore"
)

// Syncer writes reviewer verdicts back into session tag sets and marks the
// consumed tasks so the next run skips them.
type Syncer struct {
	ls           *labelstudio.Client
	store        objectstore.Store
	projectTitle string
	logger       *zap.Logger
}

// NewSyncer creates a verdict syncer for the named review project.
func NewSyncer(ls *labelstudio.Client, store objectstore.Store, projectTitle string, logger *zap.Logger) *Syncer {
	return &Syncer{ls: ls, store: store, projectTitle: projectTitle, logger: logger}
}

// Sync processes every labeled, not-yet-synced task in the review project.
// A store error on one session is logged and the rest of the batch goes on;
// that task stays unsynced and is retried on the next run. Returns the
// number of verdicts applied.
//
// The project must already exist: labelstudio.ErrProjectNotFound means
// dispatch has not created it yet.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	proj, err := s.ls.FindProjectByTitle(ctx, s.projectTitle)
	if err != nil {
		if errors.Is(err, labelstudio.ErrProjectNotFound) {
			return 0, fmt.Errorf("%w (dispatch must run first)", err)
		}
		return 0, err
	}

	tasks, err := s.ls.ListTasks(ctx, proj.ID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, t := range tasks {
		if !t.IsLabeled || t.Synced() {
			continue
		}
		if s.syncTask(ctx, &t) {
			applied++
		}
	}

	s.logger.Info("Verdict sync finished",
		zap.Int("project_id", proj.ID),
		zap.Int("applied", applied))
	return applied, nil
}

func (s *Syncer) syncTask(ctx context.Context, t *labelstudio.Task) bool {
	key := t.LinkKey()
	if key == "" {
		s.logger.Warn("Task has no session back-reference", zap.Int64("task_id", t.ID))
		return false
	}

	verdict, ok := extractVerdict(t)
	if !ok {
		s.logger.Warn("Task has no usable verdict", zap.Int64("task_id", t.ID), zap.String("key", key))
		return false
	}

	tags, err := s.store.GetTags(ctx, key)
	if err != nil {
		s.logger.Error("Failed to read session tags", zap.String("key", key), zap.Error(err))
		return false
	}

	// A session never leaves approved/rejected; if a verdict already
	// landed, only mark the task consumed.
	if tags[models.TagProcessed] == "true" {
		s.logger.Info("Session already processed, skipping tag write", zap.String("key", key))
		s.markSynced(ctx, t.ID)
		return false
	}

	tags[models.TagStatus] = verdict.Status
	tags[models.TagProcessed] = "true"
	tags[models.TagDoctorComment] = models.TruncateComment(verdict.Comment)

	if err := s.store.PutTags(ctx, key, tags); err != nil {
		// Leave the task unsynced so the next run retries it.
		s.logger.Error("Failed to write session tags", zap.String("key", key), zap.Error(err))
		return false
	}

	s.logger.Info("Applied verdict",
		zap.String("key", key),
		zap.String("verdict", verdict.Status))

	s.markSynced(ctx, t.ID)
	return true
}

func (s *Syncer) markSynced(ctx context.Context, taskID int64) {
	if err := s.ls.PatchTaskMeta(ctx, taskID, map[string]string{"synced": "true"}); err != nil {
		// Harmless: the processed tag guard makes a re-run a no-op.
		s.logger.Error("Failed to mark task synced", zap.Int64("task_id", taskID), zap.Error(err))
	}
}

// extractVerdict reads the first annotation's verdict and comment by field
// name. Only the first annotation is authoritative.
func extractVerdict(t *labelstudio.Task) (models.Verdict, bool) {
	if len(t.Annotations) == 0 {
		return models.Verdict{}, false
	}
	ann := t.Annotations[0]

	choices := ann.FieldChoices(labelstudio.FieldVerdict)
	if len(choices) == 0 {
		return models.Verdict{}, false
	}
	status := choices[0]
	if status != models.StatusApproved && status != models.StatusRejected {
		return models.Verdict{}, false
	}

	comment := ""
	if text := ann.FieldText(labelstudio.FieldComment); len(text) > 0 {
		comment = text[0]
	}
	return models.Verdict{Status: status, Comment: comment}, true
}
