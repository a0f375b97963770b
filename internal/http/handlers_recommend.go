package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mistakeknot/interlock/internal/coord"
)

type recommendRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit"`
}

func (s *Service) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	recs, err := s.coord.Recommend(req.Text, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []coord.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}
