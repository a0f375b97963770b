package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is the generic error for an unexpected status.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// LockConflictError reports a failed all-or-nothing acquire: FilePath is
// held by Holder until ExpiresAt. No locks from the request were taken.
type LockConflictError struct {
	ProjectID string
	FilePath  string
	Holder    string
	LockedAt  time.Time
	ExpiresAt time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock conflict: %s held by %s until %s",
		e.FilePath, e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

// ContextConflictError reports a start against an already-active context.
type ContextConflictError struct {
	AgentID   string
	ProjectID string
}

func (e *ContextConflictError) Error() string {
	return fmt.Sprintf("agent %s already has an active context on %s", e.AgentID, e.ProjectID)
}

// BusyError means the server's conflict-retry budget was exhausted;
// back off and retry.
type BusyError struct {
	Key string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("server busy on %s", e.Key)
}

// NotFoundError covers both unknown entities and the no-active-context
// case; Code distinguishes them.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return e.Code
}

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
	ProjectID string `json:"project_id"`
	FilePath  string `json:"file_path"`
	Holder    string `json:"holder"`
	LockedAt  string `json:"locked_at"`
	ExpiresAt string `json:"expires_at"`
	AgentID   string `json:"agent_id"`
	Key       string `json:"key"`
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var body errorBody
	_ = json.Unmarshal(data, &body)

	switch {
	case resp.StatusCode == http.StatusConflict && body.Error == "lock_conflict":
		lockedAt, _ := time.Parse(time.RFC3339Nano, body.LockedAt)
		expiresAt, _ := time.Parse(time.RFC3339Nano, body.ExpiresAt)
		return &LockConflictError{
			ProjectID: body.ProjectID,
			FilePath:  body.FilePath,
			Holder:    body.Holder,
			LockedAt:  lockedAt,
			ExpiresAt: expiresAt,
		}
	case resp.StatusCode == http.StatusConflict && body.Error == "context_conflict":
		return &ContextConflictError{AgentID: body.AgentID, ProjectID: body.ProjectID}
	case resp.StatusCode == http.StatusServiceUnavailable && body.Error == "busy":
		return &BusyError{Key: body.Key}
	case resp.StatusCode == http.StatusNotFound:
		code := body.Error
		if code == "" {
			code = "not_found"
		}
		return &NotFoundError{Code: code}
	case resp.StatusCode == http.StatusBadRequest && body.Error == "invalid_request":
		return &APIError{Status: resp.StatusCode, Code: fmt.Sprintf("invalid %s: %s", body.Field, body.Reason)}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error}
}
