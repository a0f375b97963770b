package core

import "time"

// AgentType classifies what kind of client an agent is.
type AgentType string

const (
	AgentTypeAssistant    AgentType = "assistant"
	AgentTypeOrchestrator AgentType = "orchestrator"
	AgentTypeReviewer     AgentType = "reviewer"
	AgentTypeWorker       AgentType = "worker"
)

// KnownAgentType reports whether t is one of the accepted agent types.
func KnownAgentType(t AgentType) bool {
	switch t {
	case AgentTypeAssistant, AgentTypeOrchestrator, AgentTypeReviewer, AgentTypeWorker:
		return true
	}
	return false
}

type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRetired AgentStatus = "retired"
)

// AgentProfile is the durable identity of a coding agent. The ID is derived
// from the name, so the same logical agent resolves to the same profile
// across process restarts.
type AgentProfile struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         AgentType   `json:"agent_type"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Status       AgentStatus `json:"status"`
	LastActive   time.Time   `json:"last_active"`
	CreatedAt    time.Time   `json:"created_at"`
	Version      uint64      `json:"version"`
	Deleted      bool        `json:"is_deleted"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// WorkContext is an agent's currently declared unit of work. At most one
// undeleted context exists per agent; end tombstones it.
type WorkContext struct {
	AgentID     string    `json:"agent_id"`
	ProjectID   string    `json:"project_id"`
	Objective   string    `json:"objective"`
	Priority    Priority  `json:"priority,omitempty"`
	CurrentFile string    `json:"current_file,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Version     uint64    `json:"version"`
	Deleted     bool      `json:"is_deleted"`
}

// FileLock is an exclusivity record over one file path within one project.
// Locks are data, not mutexes: an unexpired lock makes a competing acquire
// fail, it never blocks anything.
type FileLock struct {
	ProjectID     string    `json:"project_id"`
	FilePath      string    `json:"file_path"`
	HolderAgentID string    `json:"holder_agent_id"`
	Reason        string    `json:"reason,omitempty"`
	LockedAt      time.Time `json:"locked_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Version       uint64    `json:"version"`
	Deleted       bool      `json:"is_deleted"`
}

// Expired reports whether the lock is past its TTL at the given instant.
// Expired locks are invisible to every read path whether or not a sweep
// has reclaimed them yet.
func (l FileLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// EventKind is the step recorded in an agent's session log.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventStarted    EventKind = "started"
	EventSwitched   EventKind = "switched"
	EventEnded      EventKind = "ended"
	EventLocked     EventKind = "locked"
	EventUnlocked   EventKind = "unlocked"
)

// KnownEventKind reports whether k names a session log step.
func KnownEventKind(k EventKind) bool {
	switch k {
	case EventRegistered, EventStarted, EventSwitched, EventEnded, EventLocked, EventUnlocked:
		return true
	}
	return false
}

// SessionEvent is one append-only entry in an agent's history.
type SessionEvent struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	ProjectID string            `json:"project_id,omitempty"`
	Kind      EventKind         `json:"kind"`
	Payload   map[string]string `json:"payload,omitempty"`
	At        time.Time         `json:"at"`
	Version   uint64            `json:"version"`
	Deleted   bool              `json:"is_deleted"`
}

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusBlocked TaskStatus = "blocked"
	TaskStatusDone    TaskStatus = "done"
)

// Task is a plain work item carried on the same storage contract as the
// coordination entities. Tasks have no locking semantics.
type Task struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Title      string     `json:"title"`
	Detail     string     `json:"detail,omitempty"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Version    uint64     `json:"version"`
	Deleted    bool       `json:"is_deleted"`
}

// Note is a small message left for another agent; ordinary CRUD data.
type Note struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Version   uint64    `json:"version"`
	Deleted   bool      `json:"is_deleted"`
}

// BroadcastType labels events pushed to websocket subscribers.
type BroadcastType string

const (
	BroadcastAgentRegistered BroadcastType = "agent.registered"
	BroadcastContextStarted  BroadcastType = "context.started"
	BroadcastContextSwitched BroadcastType = "context.switched"
	BroadcastContextEnded    BroadcastType = "context.ended"
	BroadcastLockAcquired    BroadcastType = "lock.acquired"
	BroadcastLockReleased    BroadcastType = "lock.released"
	BroadcastLockExpired     BroadcastType = "lock.expired"
	BroadcastTaskCreated     BroadcastType = "task.created"
	BroadcastTaskUpdated     BroadcastType = "task.updated"
	BroadcastNoteCreated     BroadcastType = "note.created"
)

// Broadcast is the envelope written to websocket subscribers.
type Broadcast struct {
	Type    BroadcastType `json:"type"`
	Project string        `json:"project,omitempty"`
	Agent   string        `json:"agent,omitempty"`
	Data    any           `json:"data,omitempty"`
	At      time.Time     `json:"at"`
}
