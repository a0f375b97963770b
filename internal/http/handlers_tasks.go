package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
)

// Tasks are addressed as /api/tasks/{id}?project={project}: the id rides
// the path, the project scopes the lookup.

func (s *Service) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var task core.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		created, err := s.coord.CreateTask(r.Context(), task)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		project := r.URL.Query().Get("project")
		if project == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := core.TaskStatus(r.URL.Query().Get("status"))
		assignedTo := r.URL.Query().Get("assigned_to")
		tasks, err := s.coord.ListTasks(r.Context(), project, status, assignedTo)
		if err != nil {
			writeError(w, err)
			return
		}
		if tasks == nil {
			tasks = []core.Task{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project := r.URL.Query().Get("project")

	switch r.Method {
	case http.MethodGet:
		if project == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		task, err := s.coord.GetTask(r.Context(), project, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodPut:
		var task core.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		task.ID = id
		updated, err := s.coord.UpdateTask(r.Context(), task)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if project == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.coord.DeleteTask(r.Context(), project, id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
