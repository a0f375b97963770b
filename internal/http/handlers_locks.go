package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

type acquireRequest struct {
	AgentID    string   `json:"agent_id"`
	ProjectID  string   `json:"project_id"`
	Files      []string `json:"files"`
	Reason     string   `json:"reason"`
	TTLMinutes int      `json:"ttl_minutes"`
}

type releaseRequest struct {
	AgentID   string   `json:"agent_id"`
	ProjectID string   `json:"project_id"`
	Files     []string `json:"files"`
}

// handleLocks serves /api/locks: POST acquires a set of files all or
// nothing, GET lists a project's unexpired locks.
func (s *Service) handleLocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.acquireLocks(w, r)
	case http.MethodGet:
		s.listLocks(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) acquireLocks(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var ttl time.Duration
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	locks, err := s.coord.Acquire(r.Context(), req.AgentID, req.ProjectID, req.Files, req.Reason, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"locks": locks})
}

func (s *Service) listLocks(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	locks, err := s.coord.LockedFiles(r.Context(), project)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": locks})
}

func (s *Service) handleReleaseLocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	released, err := s.coord.Release(r.Context(), req.AgentID, req.ProjectID, req.Files)
	if err != nil {
		writeError(w, err)
		return
	}
	if released == nil {
		released = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": released})
}

func (s *Service) handleAgentLocks(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locks, err := s.coord.AgentLocks(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if locks == nil {
		locks = []core.FileLock{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": locks})
}
