package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mistakeknot/interlock/internal/core"
)

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.coord.History(r.Context(), agentID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []core.SessionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type progressRequest struct {
	Steps []string `json:"steps"`
}

func (s *Service) handleProgress(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	steps := make([]core.EventKind, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = core.EventKind(s)
	}
	progress, err := s.coord.WorkflowProgress(r.Context(), agentID, steps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
