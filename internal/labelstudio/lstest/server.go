// Package lstest provides a stateful in-memory Label Studio stand-in for
// tests: projects, task import, completion filtering and meta patching.
package lstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"reviewloop/internal/labelstudio"
)

var (
	projectTasksRe  = regexp.MustCompile(`^/api/projects/(\d+)/tasks$`)
	projectImportRe = regexp.MustCompile(`^/api/projects/(\d+)/import$`)
	taskRe          = regexp.MustCompile(`^/api/tasks/(\d+)$`)
)

// Server is a fake Label Studio backend.
type Server struct {
	mu         sync.Mutex
	httpServer *httptest.Server

	projects   []labelstudio.Project
	tasks      map[int][]*labelstudio.Task
	nextProjID int
	nextTaskID int64
}

// New starts a fake server; it is shut down with the test.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		tasks:      make(map[int][]*labelstudio.Task),
		nextProjID: 1,
		nextTaskID: 1,
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.httpServer.Close)
	return s
}

// URL returns the fake server's base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// AddProject registers a project directly, bypassing the API.
func (s *Server) AddProject(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextProjID
	s.nextProjID++
	s.projects = append(s.projects, labelstudio.Project{ID: id, Title: title})
	return id
}

// ProjectID returns the id of the project with the given title, or zero.
func (s *Server) ProjectID(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Title == title {
			return p.ID
		}
	}
	return 0
}

// Tasks returns the tasks of a project for assertions.
func (s *Server) Tasks(projectID int) []labelstudio.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]labelstudio.Task, 0, len(s.tasks[projectID]))
	for _, t := range s.tasks[projectID] {
		out = append(out, *t)
	}
	return out
}

// Annotate attaches an annotation to a task and marks it labeled.
func (s *Server) Annotate(projectID int, taskID int64, verdict, comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks[projectID] {
		if t.ID != taskID {
			continue
		}
		result := []labelstudio.AnnotationResult{{
			FromName: labelstudio.FieldVerdict,
			Value:    labelstudio.ResultValue{Choices: []string{verdict}},
		}}
		if comment != "" {
			result = append(result, labelstudio.AnnotationResult{
				FromName: labelstudio.FieldComment,
				Value:    labelstudio.ResultValue{Text: []string{comment}},
			})
		}
		t.IsLabeled = true
		t.Annotations = []labelstudio.Annotation{{Result: result}}
		return
	}
	panic(fmt.Sprintf("lstest: task %d not found in project %d", taskID, projectID))
}

// AnnotateAll marks every task in the project labeled with the same verdict.
func (s *Server) AnnotateAll(projectID int, verdict, comment string) {
	for _, t := range s.Tasks(projectID) {
		s.Annotate(projectID, t.ID, verdict, comment)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/api/projects" && r.Method == http.MethodGet:
		writeJSON(w, map[string]any{"results": s.projects})

	case path == "/api/projects" && r.Method == http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		id := s.nextProjID
		s.nextProjID++
		proj := labelstudio.Project{ID: id, Title: req.Title}
		s.projects = append(s.projects, proj)
		writeJSON(w, proj)

	case projectTasksRe.MatchString(path) && r.Method == http.MethodGet:
		id, _ := strconv.Atoi(projectTasksRe.FindStringSubmatch(path)[1])
		tasks := make([]labelstudio.Task, 0)
		for _, t := range s.tasks[id] {
			if v := r.URL.Query().Get("completed"); v != "" {
				completed, _ := strconv.ParseBool(v)
				if t.IsLabeled != completed {
					continue
				}
			}
			tasks = append(tasks, *t)
		}
		writeJSON(w, tasks)

	case projectImportRe.MatchString(path) && r.Method == http.MethodPost:
		id, _ := strconv.Atoi(projectImportRe.FindStringSubmatch(path)[1])
		var newTasks []labelstudio.NewTask
		json.NewDecoder(r.Body).Decode(&newTasks)
		for _, nt := range newTasks {
			s.tasks[id] = append(s.tasks[id], &labelstudio.Task{
				ID: s.nextTaskID,
				Data: map[string]any{
					"prompt":   nt.Data.Prompt,
					"response": nt.Data.Response,
				},
				Meta: nt.Meta,
			})
			s.nextTaskID++
		}
		writeJSON(w, map[string]int{"task_count": len(newTasks)})

	case taskRe.MatchString(path) && r.Method == http.MethodPatch:
		id, _ := strconv.ParseInt(taskRe.FindStringSubmatch(path)[1], 10, 64)
		var req struct {
			Meta map[string]string `json:"meta"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, tasks := range s.tasks {
			for _, t := range tasks {
				if t.ID != id {
					continue
				}
				if t.Meta == nil {
					t.Meta = make(map[string]string)
				}
				for k, v := range req.Meta {
					t.Meta[k] = v
				}
				writeJSON(w, t)
				return
			}
		}
		http.NotFound(w, r)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
