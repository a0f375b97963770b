package coord

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mistakeknot/interlock/internal/core"
)

// On-disk key layout. Directories are namespaced by agent and project id;
// the agent and project registries are version-checked single documents.
//
//	agents/index                      name -> id registry
//	agents/<id>/profile               AgentProfile
//	agents/<id>/context               active WorkContext (tombstoned on end)
//	agents/<id>/sessions/<order>      SessionEvent, append-only
//	projects/index                    known project ids
//	projects/<id>/locks/<file>        FileLock, one slot per path
//	projects/<id>/tasks/<uuid>        Task
//	projects/<id>/notes/<uuid>        Note

const (
	agentIndexKey   = "agents/index"
	projectIndexKey = "projects/index"
)

func agentProfileKey(agentID string) string {
	return "agents/" + agentID + "/profile"
}

func agentContextKey(agentID string) string {
	return "agents/" + agentID + "/context"
}

func sessionPrefix(agentID string) string {
	return "agents/" + agentID + "/sessions/"
}

// sessionKey orders events lexicographically by timestamp; the uuid tail
// keeps two events in the same nanosecond from colliding.
func sessionKey(agentID string, unixNano int64) string {
	return fmt.Sprintf("%s%020d-%s", sessionPrefix(agentID), unixNano, uuid.NewString()[:8])
}

func lockPrefix(projectID string) string {
	return "projects/" + projectID + "/locks/"
}

// lockKey maps a normalized file path to its lock slot. The path is
// query-escaped so it occupies exactly one key segment.
func lockKey(projectID, filePath string) string {
	return lockPrefix(projectID) + url.QueryEscape(filePath)
}

func taskKey(projectID, taskID string) string {
	return "projects/" + projectID + "/tasks/" + taskID
}

func taskPrefix(projectID string) string {
	return "projects/" + projectID + "/tasks/"
}

func noteKey(projectID, noteID string) string {
	return "projects/" + projectID + "/notes/" + noteID
}

func notePrefix(projectID string) string {
	return "projects/" + projectID + "/notes/"
}

// validateID guards values that become key segments. Agent ids are
// generated and always pass; project ids come from callers.
func validateID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &core.ValidationError{Field: field, Reason: "required"}
	}
	if len(v) > 128 {
		return &core.ValidationError{Field: field, Reason: "longer than 128 bytes"}
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return &core.ValidationError{Field: field, Reason: fmt.Sprintf("character %q not allowed", r)}
		}
	}
	if v == "." || v == ".." || v == "index" {
		return &core.ValidationError{Field: field, Reason: "reserved"}
	}
	return nil
}
