package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
)

type registerAgentRequest struct {
	Name         string   `json:"name"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
}

func (s *Service) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.registerAgent(w, r)
	case http.MethodGet:
		s.listAgents(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	profile, err := s.coord.Register(r.Context(), req.Name, core.AgentType(req.AgentType), req.Capabilities)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Service) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.coord.ListAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if agents == nil {
		agents = []core.AgentProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// handleAgentSubpath dispatches /api/agents/{id} and its sub-resources.
func (s *Service) handleAgentSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	id, sub, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch sub {
	case "":
		s.handleAgentByID(w, r, id)
	case "context":
		s.handleContext(w, r, id)
	case "context/file":
		s.handleCurrentFile(w, r, id)
	case "history":
		s.handleHistory(w, r, id)
	case "progress":
		s.handleProgress(w, r, id)
	case "locks":
		s.handleAgentLocks(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Service) handleAgentByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		profile, err := s.coord.GetAgent(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodDelete:
		if err := s.coord.RetireAgent(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
