package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mistakeknot/interlock/internal/core"
)

type startContextRequest struct {
	ProjectID string `json:"project_id"`
	Objective string `json:"objective"`
	Priority  string `json:"priority"`
}

type switchContextRequest struct {
	ProjectID string `json:"project_id"`
	Objective string `json:"objective"`
}

// handleContext serves /api/agents/{id}/context: POST starts, PUT
// switches, DELETE ends, GET reads the active context.
func (s *Service) handleContext(w http.ResponseWriter, r *http.Request, agentID string) {
	switch r.Method {
	case http.MethodPost:
		var req startContextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		wc, err := s.coord.StartContext(r.Context(), agentID, req.ProjectID, req.Objective, core.Priority(req.Priority))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, wc)
	case http.MethodPut:
		var req switchContextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		wc, err := s.coord.SwitchContext(r.Context(), agentID, req.ProjectID, req.Objective)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wc)
	case http.MethodDelete:
		wc, err := s.coord.EndContext(r.Context(), agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wc)
	case http.MethodGet:
		wc, err := s.coord.ActiveContext(r.Context(), agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wc)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleCurrentFile(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	wc, err := s.coord.SetCurrentFile(r.Context(), agentID, req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}
