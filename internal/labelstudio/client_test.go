package labelstudio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

func TestFindProjectByTitle(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/api/projects", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"id":3,"title":"Other"},{"id":7,"title":"LLM Doctor Review"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())

	proj, err := c.FindProjectByTitle(ctx, "LLM Doctor Review")
	require.NoError(t, err)
	assert.Equal(t, 7, proj.ID)
	assert.Equal(t, "Token secret", gotAuth)

	_, err = c.FindProjectByTitle(ctx, "Missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestFindProjectAPIFailureIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	_, err := c.FindProjectByTitle(ctx, "LLM Doctor Review")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "LLM Doctor Review", payload["title"])
		assert.Contains(t, payload["label_config"], "doctor_verdict")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":11,"title":"LLM Doctor Review"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	proj, err := c.CreateProject(ctx, "LLM Doctor Review", DoctorLabelConfig)
	require.NoError(t, err)
	assert.Equal(t, 11, proj.ID)
}

func TestListTasksByCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/projects/7/tasks", r.URL.Path)
		require.Equal(t, "false", r.URL.Query().Get("completed"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"is_labeled":false,"meta":{"s3_key":"logs/a.json"}}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	tasks, err := c.ListTasksByCompletion(ctx, 7, false)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "logs/a.json", tasks[0].LinkKey())
	assert.False(t, tasks[0].Synced())
}

func TestPatchTaskMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/tasks/42", r.URL.Path)
		var payload struct {
			Meta map[string]string `json:"meta"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "true", payload.Meta["synced"])
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	require.NoError(t, c.PatchTaskMeta(ctx, 42, map[string]string{"synced": "true"}))
}

func TestTaskLinkKeyFallsBackToOriginalKey(t *testing.T) {
	task := Task{Meta: map[string]string{"original_key": "logs/old.json"}}
	assert.Equal(t, "logs/old.json", task.LinkKey())

	task.Meta["s3_key"] = "logs/new.json"
	assert.Equal(t, "logs/new.json", task.LinkKey())

	assert.Empty(t, (&Task{}).LinkKey())
}

func TestAnnotationFieldLookupByName(t *testing.T) {
	// Field order reversed relative to the label config: lookup must be
	// by name, not position.
	ann := Annotation{Result: []AnnotationResult{
		{FromName: FieldComment, Value: ResultValue{Text: []string{"too vague"}}},
		{FromName: FieldVerdict, Value: ResultValue{Choices: []string{"rejected"}}},
	}}

	assert.Equal(t, []string{"rejected"}, ann.FieldChoices(FieldVerdict))
	assert.Equal(t, []string{"too vague"}, ann.FieldText(FieldComment))
	assert.Nil(t, ann.FieldChoices("unknown"))
}
