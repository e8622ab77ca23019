package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"reviewloop/internal/labelstudio"
	"reviewloop/internal/models"
)

// Dispatcher imports triage-selected sessions into the Label Studio review
// project, at most once per session across all runs.
type Dispatcher struct {
	ls           *labelstudio.Client
	projectTitle string
	logger       *zap.Logger
}

// NewDispatcher creates a review dispatcher targeting the named project.
func NewDispatcher(ls *labelstudio.Client, projectTitle string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{ls: ls, projectTitle: projectTitle, logger: logger}
}

// Dispatch ensures the review project exists and imports every item whose
// session key is not yet linked to a task. Safe to re-run: the dedup check
// against existing task back-references makes a retry import nothing.
// Returns the number of newly imported tasks.
func (d *Dispatcher) Dispatch(ctx context.Context, items []models.ReviewItem) (int, error) {
	proj, err := d.ls.EnsureProject(ctx, d.projectTitle, labelstudio.DoctorLabelConfig)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure review project: %w", err)
	}

	if len(items) == 0 {
		d.logger.Info("No sessions selected for review", zap.Int("project_id", proj.ID))
		return 0, nil
	}

	existing, err := d.ls.ListTasks(ctx, proj.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing tasks: %w", err)
	}
	linked := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		if k := t.LinkKey(); k != "" {
			linked[k] = struct{}{}
		}
	}

	var newTasks []labelstudio.NewTask
	for _, item := range items {
		if _, ok := linked[item.Key]; ok {
			continue
		}
		newTasks = append(newTasks, labelstudio.NewTask{
			Data: labelstudio.TaskData{
				Prompt:   item.Prompt,
				Response: item.Response,
			},
			Meta: map[string]string{
				"s3_key":   item.Key,
				"feedback": item.Feedback,
			},
		})
	}

	if len(newTasks) == 0 {
		d.logger.Info("All selected sessions already imported", zap.Int("project_id", proj.ID))
		return 0, nil
	}

	if err := d.ls.ImportTasks(ctx, proj.ID, newTasks); err != nil {
		return 0, fmt.Errorf("failed to import tasks: %w", err)
	}
	return len(newTasks), nil
}

// ProjectID resolves the review project id for the current run.
func (d *Dispatcher) ProjectID(ctx context.Context) (int, error) {
	proj, err := d.ls.FindProjectByTitle(ctx, d.projectTitle)
	if err != nil {
		return 0, err
	}
	return proj.ID, nil
}
