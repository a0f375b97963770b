package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

// writeError maps core errors onto HTTP statuses. Conflicts carry a
// structured body so clients can act on the holder without parsing
// message text.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *core.ValidationError
		lockConf   *core.LockConflictError
		ctxConf    *core.ContextConflictError
		busy       *core.BusyError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid_request",
			"field":  validation.Field,
			"reason": validation.Reason,
		})
	case errors.Is(err, core.ErrNotActive):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "no_active_context",
		})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "not_found",
		})
	case errors.As(err, &lockConf):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "lock_conflict",
			"project_id": lockConf.ProjectID,
			"file_path":  lockConf.FilePath,
			"holder":     lockConf.Holder,
			"locked_at":  lockConf.LockedAt.Format(time.RFC3339Nano),
			"expires_at": lockConf.ExpiresAt.Format(time.RFC3339Nano),
		})
	case errors.As(err, &ctxConf):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "context_conflict",
			"agent_id":   ctxConf.AgentID,
			"project_id": ctxConf.ProjectID,
		})
	case errors.As(err, &busy):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":    "busy",
			"key":      busy.Key,
			"attempts": busy.Attempts,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "internal",
		})
	}
}
