// Package httpapi exposes the coordination core over JSON HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mistakeknot/interlock/internal/coord"
)

type Service struct {
	coord *coord.Coordinator
}

func NewService(c *coord.Coordinator) *Service {
	return &Service{coord: c}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
