package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/pathutil"
	"github.com/mistakeknot/interlock/internal/storage"
)

// appliedLock tracks one slot written during an acquire so a losing race
// can be rolled back.
type appliedLock struct {
	key        string
	newVersion uint64
	prior      *storage.Record // nil when the slot was created by this call
}

// Acquire takes locks on a set of files, all or nothing. A file held
// unexpired by another agent aborts the whole request with
// *core.LockConflictError naming that file and its holder; files already
// held by the caller are refreshed in place. If a concurrent writer wins
// the race on any slot mid-write, the slots already written by this call
// are rolled back before the conflict is returned.
func (c *Coordinator) Acquire(ctx context.Context, agentID, projectID string, files []string, reason string, ttl time.Duration) ([]core.FileLock, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return nil, err
	}
	if err := validateID("project_id", projectID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &core.ValidationError{Field: "files", Reason: "empty file set"}
	}
	clean, err := pathutil.NormalizeSet(files)
	if err != nil {
		return nil, &core.ValidationError{Field: "files", Reason: err.Error()}
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultLockTTL
	}
	now := c.now()

	// Conflict pass over the current slot state, applying expiry lazily:
	// an expired record is as good as absent no matter when the sweeper
	// last ran.
	current := make(map[string]storage.Record, len(clean))
	for _, file := range clean {
		rec, lock, err := c.readLockSlot(ctx, projectID, file)
		if err != nil {
			return nil, err
		}
		if rec.Version == 0 {
			continue
		}
		current[file] = rec
		if lock.Expired(now) {
			continue
		}
		if lock.HolderAgentID != agentID {
			return nil, &core.LockConflictError{
				ProjectID: projectID,
				FilePath:  file,
				Holder:    lock.HolderAgentID,
				LockedAt:  lock.LockedAt,
				ExpiresAt: lock.ExpiresAt,
			}
		}
	}

	if err := c.checkLockBudget(ctx, agentID, projectID, clean, now); err != nil {
		return nil, err
	}

	// Write pass: one optimistic put per slot. Any storage-level conflict
	// means another caller raced us in; undo and report.
	applied := make([]appliedLock, 0, len(clean))
	out := make([]core.FileLock, 0, len(clean))
	for _, file := range clean {
		lock := core.FileLock{
			ProjectID:     projectID,
			FilePath:      file,
			HolderAgentID: agentID,
			Reason:        reason,
			LockedAt:      now,
			ExpiresAt:     now.Add(ttl),
		}
		doc, err := json.Marshal(lock)
		if err != nil {
			c.rollbackLocks(ctx, applied)
			return nil, err
		}

		var expected uint64
		var prior *storage.Record
		if rec, ok := current[file]; ok {
			expected = rec.Version
			cp := rec
			prior = &cp
		}
		key := lockKey(projectID, file)
		newVersion, err := c.kv.Put(ctx, key, doc, expected)
		var conflict *core.VersionConflictError
		if errors.As(err, &conflict) {
			// The slot moved between the conflict pass and our write. A
			// release or sweep that emptied it is not real contention, so
			// retry once against the fresh state; a live competing holder
			// still aborts.
			rec, cur, rerr := c.readLockSlot(ctx, projectID, file)
			if rerr == nil && (rec.Version == 0 || cur.Expired(now) || cur.HolderAgentID == agentID) {
				prior = nil
				if rec.Version != 0 {
					cp := rec
					prior = &cp
				}
				newVersion, err = c.kv.Put(ctx, key, doc, rec.Version)
			}
		}
		if err != nil {
			c.rollbackLocks(ctx, applied)
			if errors.As(err, &conflict) {
				return nil, c.raceConflict(ctx, projectID, file, agentID)
			}
			return nil, err
		}
		lock.Version = newVersion
		applied = append(applied, appliedLock{key: key, newVersion: newVersion, prior: prior})
		out = append(out, lock)
	}

	c.appendEvent(ctx, core.SessionEvent{
		AgentID:   agentID,
		ProjectID: projectID,
		Kind:      core.EventLocked,
		Payload:   map[string]string{"files": strings.Join(clean, ","), "reason": reason},
	})
	c.touchAgent(ctx, agentID)
	c.broadcast(projectID, agentID, core.Broadcast{
		Type: core.BroadcastLockAcquired, Project: projectID, Agent: agentID, Data: out, At: now,
	})
	return out, nil
}

// Release deletes lock records owned by the caller. Files not held by the
// caller are skipped silently; release is always safe to call. The released
// file list is returned.
func (c *Coordinator) Release(ctx context.Context, agentID, projectID string, files []string) ([]string, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return nil, err
	}
	if err := validateID("project_id", projectID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &core.ValidationError{Field: "files", Reason: "empty file set"}
	}
	clean, err := pathutil.NormalizeSet(files)
	if err != nil {
		return nil, &core.ValidationError{Field: "files", Reason: err.Error()}
	}

	var released []string
	for _, file := range clean {
		ok, err := storage.DeleteChecked(ctx, c.kv, c.cfg.Retry, lockKey(projectID, file), func(cur storage.Record) (bool, error) {
			var lock core.FileLock
			if err := json.Unmarshal(cur.Doc, &lock); err != nil {
				return false, fmt.Errorf("decode lock %s/%s: %w", projectID, file, err)
			}
			return lock.HolderAgentID == agentID, nil
		})
		if err != nil {
			return released, err
		}
		if ok {
			released = append(released, file)
		}
	}
	if len(released) == 0 {
		return nil, nil
	}

	now := c.now()
	c.appendEvent(ctx, core.SessionEvent{
		AgentID:   agentID,
		ProjectID: projectID,
		Kind:      core.EventUnlocked,
		Payload:   map[string]string{"files": strings.Join(released, ",")},
	})
	c.touchAgent(ctx, agentID)
	c.broadcast(projectID, agentID, core.Broadcast{
		Type: core.BroadcastLockReleased, Project: projectID, Agent: agentID, Data: released, At: now,
	})
	return released, nil
}

// LockedFiles returns the project's unexpired locks, sorted by path.
// Expired records still awaiting a sweep are never reported.
func (c *Coordinator) LockedFiles(ctx context.Context, projectID string) ([]core.FileLock, error) {
	if err := validateID("project_id", projectID); err != nil {
		return nil, err
	}
	keys, err := c.kv.List(ctx, lockPrefix(projectID))
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]core.FileLock, 0, len(keys))
	for _, key := range keys {
		lock, ok, err := c.readLockKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok && !lock.Expired(now) {
			out = append(out, lock)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

// AgentLocks returns every unexpired lock held by an agent across all
// projects.
func (c *Coordinator) AgentLocks(ctx context.Context, agentID string) ([]core.FileLock, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return nil, err
	}
	keys, err := c.kv.List(ctx, "projects/")
	if err != nil {
		return nil, err
	}
	now := c.now()
	var out []core.FileLock
	for _, key := range keys {
		if !strings.Contains(key, "/locks/") {
			continue
		}
		lock, ok, err := c.readLockKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok && lock.HolderAgentID == agentID && !lock.Expired(now) {
			out = append(out, lock)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out, nil
}

// SweepExpired physically deletes lock records expired before the cutoff.
// Purely a storage-growth bound: every read path already ignores expired
// records, so correctness never depends on this running.
func (c *Coordinator) SweepExpired(ctx context.Context, expiredBefore time.Time) ([]core.FileLock, error) {
	keys, err := c.kv.List(ctx, "projects/")
	if err != nil {
		return nil, err
	}
	var removed []core.FileLock
	for _, key := range keys {
		if !strings.Contains(key, "/locks/") {
			continue
		}
		var swept core.FileLock
		ok, err := storage.DeleteChecked(ctx, c.kv, c.cfg.Retry, key, func(cur storage.Record) (bool, error) {
			var lock core.FileLock
			if err := json.Unmarshal(cur.Doc, &lock); err != nil {
				return false, fmt.Errorf("decode lock %s: %w", key, err)
			}
			if lock.ExpiresAt.After(expiredBefore) {
				return false, nil
			}
			swept = lock
			return true, nil
		})
		if err != nil {
			c.logf("coord: sweep %s: %v", key, err)
			continue
		}
		if ok {
			removed = append(removed, swept)
			c.broadcast(swept.ProjectID, "", core.Broadcast{
				Type:    core.BroadcastLockExpired,
				Project: swept.ProjectID,
				Agent:   swept.HolderAgentID,
				Data:    swept,
				At:      c.now(),
			})
		}
	}
	return removed, nil
}

// readLockSlot fetches one slot by project and file.
func (c *Coordinator) readLockSlot(ctx context.Context, projectID, file string) (storage.Record, core.FileLock, error) {
	rec, err := c.kv.Get(ctx, lockKey(projectID, file))
	if errors.Is(err, core.ErrNotFound) {
		return storage.Record{}, core.FileLock{}, nil
	}
	if err != nil {
		return storage.Record{}, core.FileLock{}, err
	}
	var lock core.FileLock
	if err := json.Unmarshal(rec.Doc, &lock); err != nil {
		return storage.Record{}, core.FileLock{}, fmt.Errorf("decode lock %s/%s: %w", projectID, file, err)
	}
	return rec, lock, nil
}

// readLockKey fetches a slot by raw key; a record that vanished between the
// List and the Get is not an error.
func (c *Coordinator) readLockKey(ctx context.Context, key string) (core.FileLock, bool, error) {
	rec, err := c.kv.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return core.FileLock{}, false, nil
	}
	var corrupt *core.CorruptRecordError
	if errors.As(err, &corrupt) {
		c.logf("coord: skipping %v", err)
		return core.FileLock{}, false, nil
	}
	if err != nil {
		return core.FileLock{}, false, err
	}
	var lock core.FileLock
	if err := json.Unmarshal(rec.Doc, &lock); err != nil {
		return core.FileLock{}, false, fmt.Errorf("decode lock %s: %w", key, err)
	}
	return lock, true, nil
}

// rollbackLocks undoes the slots written by a failed acquire, one key at a
// time. Created slots are deleted; refreshed slots get their prior document
// written back. Best effort: a slot that moved on since our write belongs
// to whoever won it.
func (c *Coordinator) rollbackLocks(ctx context.Context, applied []appliedLock) {
	for _, a := range applied {
		var err error
		if a.prior == nil {
			err = c.kv.Delete(ctx, a.key, a.newVersion)
		} else {
			_, err = c.kv.Put(ctx, a.key, a.prior.Doc, a.newVersion)
		}
		if err != nil {
			c.logf("coord: rollback %s: %v", a.key, err)
		}
	}
}

// raceConflict builds the conflict report for a slot lost mid-write.
func (c *Coordinator) raceConflict(ctx context.Context, projectID, file, agentID string) error {
	_, lock, err := c.readLockSlot(ctx, projectID, file)
	if err != nil || lock.HolderAgentID == "" {
		return &core.LockConflictError{ProjectID: projectID, FilePath: file, Holder: "unknown"}
	}
	return &core.LockConflictError{
		ProjectID: projectID,
		FilePath:  file,
		Holder:    lock.HolderAgentID,
		LockedAt:  lock.LockedAt,
		ExpiresAt: lock.ExpiresAt,
	}
}

// checkLockBudget enforces the per-agent lock cap: currently held unexpired
// locks plus the new files in this request must stay within the configured
// budget.
func (c *Coordinator) checkLockBudget(ctx context.Context, agentID, projectID string, files []string, now time.Time) error {
	held, err := c.AgentLocks(ctx, agentID)
	if err != nil {
		return err
	}
	heldSet := make(map[string]struct{}, len(held))
	for _, l := range held {
		heldSet[l.ProjectID+"\x00"+l.FilePath] = struct{}{}
	}
	total := len(held)
	for _, f := range files {
		if _, ok := heldSet[projectID+"\x00"+f]; !ok {
			total++
		}
	}
	if total > c.cfg.MaxLocksPerAgent {
		return &core.ValidationError{
			Field:  "files",
			Reason: fmt.Sprintf("agent would hold %d locks, budget is %d", total, c.cfg.MaxLocksPerAgent),
		}
	}
	return nil
}
