package labelstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrProjectNotFound is returned when no project with the requested title
// exists. Callers use it to tell "dispatch has not run yet" apart from an
// API failure.
var ErrProjectNotFound = errors.New("label studio project not found")

// Client talks to the Label Studio REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Project is one annotation workspace.
type Project struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Task is one review unit inside a project.
type Task struct {
	ID          int64             `json:"id"`
	Data        map[string]any    `json:"data"`
	Meta        map[string]string `json:"meta"`
	IsLabeled   bool              `json:"is_labeled"`
	Annotations []Annotation      `json:"annotations"`
}

// Annotation is one reviewer submission on a task.
type Annotation struct {
	Result []AnnotationResult `json:"result"`
}

// AnnotationResult is a single field of an annotation, identified by the
// label config field it came from.
type AnnotationResult struct {
	FromName string      `json:"from_name"`
	Value    ResultValue `json:"value"`
}

// ResultValue holds the possible payloads of an annotation field.
type ResultValue struct {
	Choices []string `json:"choices,omitempty"`
	Text    []string `json:"text,omitempty"`
}

// NewTask is the import payload for one session.
type NewTask struct {
	Data TaskData          `json:"data"`
	Meta map[string]string `json:"meta"`
}

// TaskData is what the reviewer sees.
type TaskData struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// NewClient creates a Label Studio client with token auth.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// LinkKey returns the object-store key this task was imported from.
// New tasks carry meta.s3_key; older imports used meta.original_key.
func (t *Task) LinkKey() string {
	if k := t.Meta["s3_key"]; k != "" {
		return k
	}
	return t.Meta["original_key"]
}

// Synced reports whether the verdict of this task was already written back.
func (t *Task) Synced() bool {
	return t.Meta["synced"] == "true"
}

// FieldChoices returns the choice values of the named annotation field.
func (a *Annotation) FieldChoices(name string) []string {
	for _, r := range a.Result {
		if r.FromName == name {
			return r.Value.Choices
		}
	}
	return nil
}

// FieldText returns the free-text values of the named annotation field.
func (a *Annotation) FieldText(name string) []string {
	for _, r := range a.Result {
		if r.FromName == name {
			return r.Value.Text
		}
	}
	return nil
}

// FindProjectByTitle looks a project up by its exact title.
// Returns ErrProjectNotFound when no project matches.
func (c *Client) FindProjectByTitle(ctx context.Context, title string) (*Project, error) {
	var list struct {
		Results []Project `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &list); err != nil {
		return nil, err
	}
	for _, p := range list.Results {
		if p.Title == title {
			proj := p
			return &proj, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, title)
}

// CreateProject creates a project with the given title and label config.
func (c *Client) CreateProject(ctx context.Context, title, labelConfig string) (*Project, error) {
	payload := map[string]string{
		"title":        title,
		"label_config": labelConfig,
	}
	var proj Project
	if err := c.do(ctx, http.MethodPost, "/api/projects", payload, &proj); err != nil {
		return nil, err
	}
	c.logger.Info("Created Label Studio project", zap.Int("project_id", proj.ID), zap.String("title", title))
	return &proj, nil
}

// EnsureProject resolves a project by title, creating it on first use.
func (c *Client) EnsureProject(ctx context.Context, title, labelConfig string) (*Project, error) {
	proj, err := c.FindProjectByTitle(ctx, title)
	if err == nil {
		return proj, nil
	}
	if !errors.Is(err, ErrProjectNotFound) {
		return nil, err
	}
	return c.CreateProject(ctx, title, labelConfig)
}

// ListTasks returns every task in a project.
func (c *Client) ListTasks(ctx context.Context, projectID int) ([]Task, error) {
	var tasks []Task
	path := fmt.Sprintf("/api/projects/%d/tasks", projectID)
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListTasksByCompletion returns the project's tasks filtered on whether
// they already have a completed annotation.
func (c *Client) ListTasksByCompletion(ctx context.Context, projectID int, completed bool) ([]Task, error) {
	var tasks []Task
	path := fmt.Sprintf("/api/projects/%d/tasks?completed=%t", projectID, completed)
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ImportTasks imports new tasks into a project.
func (c *Client) ImportTasks(ctx context.Context, projectID int, tasks []NewTask) error {
	path := fmt.Sprintf("/api/projects/%d/import", projectID)
	if err := c.do(ctx, http.MethodPost, path, tasks, nil); err != nil {
		return err
	}
	c.logger.Info("Imported tasks", zap.Int("project_id", projectID), zap.Int("count", len(tasks)))
	return nil
}

// PatchTaskMeta merges the given fields into a task's meta.
func (c *Client) PatchTaskMeta(ctx context.Context, taskID int64, meta map[string]string) error {
	payload := map[string]any{"meta": meta}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", taskID), payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("label studio returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
