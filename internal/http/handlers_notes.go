package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
)

func (s *Service) handleNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var note core.Note
		if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		created, err := s.coord.CreateNote(r.Context(), note)
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
		to := r.URL.Query().Get("to")
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			limit = n
		}
		notes, err := s.coord.ListNotes(r.Context(), project, to, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if notes == nil {
			notes = []core.Note{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleNoteByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/notes/"), "/")
	project := r.URL.Query().Get("project")
	if id == "" || project == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.coord.DeleteNote(r.Context(), project, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
