package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports an unknown key or entity.
var ErrNotFound = errors.New("not found")

// ErrNotActive reports that an agent has no active work context. End on an
// already-ended context returns it so callers can treat cleanup as benign.
var ErrNotActive = errors.New("no active context")

// VersionConflictError is returned when an optimistic version check fails.
// Actual carries the stored version so the caller can re-read and retry.
type VersionConflictError struct {
	Key      string
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, stored %d", e.Key, e.Expected, e.Actual)
}

// LockConflictError names the first requested file found held by another
// agent. No locks from the failed request are left behind.
type LockConflictError struct {
	ProjectID string
	FilePath  string
	Holder    string
	LockedAt  time.Time
	ExpiresAt time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock conflict: %s in %s held by %s until %s",
		e.FilePath, e.ProjectID, e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

// ContextConflictError is returned by start when the agent already has an
// active context.
type ContextConflictError struct {
	AgentID   string
	ProjectID string // project of the existing active context
}

func (e *ContextConflictError) Error() string {
	return fmt.Sprintf("agent %s already has an active context on %s", e.AgentID, e.ProjectID)
}

// BusyError is returned when the bounded conflict-retry budget is exhausted.
type BusyError struct {
	Key      string
	Attempts int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("busy: %s still contended after %d attempts", e.Key, e.Attempts)
}

// ValidationError reports malformed input (empty file set, unknown enum).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CorruptRecordError reports an unreadable document on disk. The offending
// record is quarantined aside; unrelated keys are unaffected.
type CorruptRecordError struct {
	Key         string
	Quarantined string
	Err         error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s (quarantined to %s): %v", e.Key, e.Quarantined, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }
