package httpapi

import (
	"net/http"
)

// NewRouter wires the API surface. wsHandler, when non-nil, is mounted at
// /ws.
func NewRouter(svc *Service, wsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/api/agents", svc.handleAgents)
	mux.HandleFunc("/api/agents/", svc.handleAgentSubpath)
	mux.HandleFunc("/api/locks", svc.handleLocks)
	mux.HandleFunc("/api/locks/release", svc.handleReleaseLocks)
	mux.HandleFunc("/api/tasks", svc.handleTasks)
	mux.HandleFunc("/api/tasks/", svc.handleTaskByID)
	mux.HandleFunc("/api/notes", svc.handleNotes)
	mux.HandleFunc("/api/notes/", svc.handleNoteByID)
	mux.HandleFunc("/api/recommend", svc.handleRecommend)
	if wsHandler != nil {
		mux.Handle("/ws", wsHandler)
	}
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
