package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// Tasks are ordinary project data on the same storage contract as the
// coordination entities; they carry no locking semantics.

func (c *Coordinator) CreateTask(ctx context.Context, task core.Task) (core.Task, error) {
	if err := validateID("project_id", task.ProjectID); err != nil {
		return core.Task{}, err
	}
	if strings.TrimSpace(task.Title) == "" {
		return core.Task{}, &core.ValidationError{Field: "title", Reason: "required"}
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = core.TaskStatusPending
	}
	now := c.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.Deleted = false

	doc, err := json.Marshal(task)
	if err != nil {
		return core.Task{}, err
	}
	newVersion, err := c.kv.Put(ctx, taskKey(task.ProjectID, task.ID), doc, 0)
	if err != nil {
		return core.Task{}, fmt.Errorf("create task: %w", err)
	}
	task.Version = newVersion
	c.broadcast(task.ProjectID, task.AssignedTo, core.Broadcast{
		Type: core.BroadcastTaskCreated, Project: task.ProjectID, Agent: task.AssignedTo, Data: task, At: now,
	})
	return task, nil
}

func (c *Coordinator) GetTask(ctx context.Context, projectID, id string) (core.Task, error) {
	if err := validateID("project_id", projectID); err != nil {
		return core.Task{}, err
	}
	rec, err := c.kv.Get(ctx, taskKey(projectID, id))
	if err != nil {
		return core.Task{}, err
	}
	var task core.Task
	if err := json.Unmarshal(rec.Doc, &task); err != nil {
		return core.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	if task.Deleted {
		return core.Task{}, core.ErrNotFound
	}
	return task, nil
}

func (c *Coordinator) ListTasks(ctx context.Context, projectID string, status core.TaskStatus, assignedTo string) ([]core.Task, error) {
	if err := validateID("project_id", projectID); err != nil {
		return nil, err
	}
	keys, err := c.kv.List(ctx, taskPrefix(projectID))
	if err != nil {
		return nil, err
	}
	var out []core.Task
	for _, key := range keys {
		rec, err := c.kv.Get(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var task core.Task
		if err := json.Unmarshal(rec.Doc, &task); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", key, err)
		}
		if task.Deleted {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		if assignedTo != "" && task.AssignedTo != assignedTo {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// UpdateTask applies the caller's copy using its version for the optimistic
// check; a stale copy gets a version conflict to re-read from.
func (c *Coordinator) UpdateTask(ctx context.Context, task core.Task) (core.Task, error) {
	if err := validateID("project_id", task.ProjectID); err != nil {
		return core.Task{}, err
	}
	if task.ID == "" {
		return core.Task{}, &core.ValidationError{Field: "id", Reason: "required"}
	}
	task.UpdatedAt = c.now()
	doc, err := json.Marshal(task)
	if err != nil {
		return core.Task{}, err
	}
	newVersion, err := c.kv.Put(ctx, taskKey(task.ProjectID, task.ID), doc, task.Version)
	if err != nil {
		return core.Task{}, err
	}
	task.Version = newVersion
	c.broadcast(task.ProjectID, task.AssignedTo, core.Broadcast{
		Type: core.BroadcastTaskUpdated, Project: task.ProjectID, Agent: task.AssignedTo, Data: task, At: task.UpdatedAt,
	})
	return task, nil
}

// DeleteTask tombstones a task; the record stays on disk.
func (c *Coordinator) DeleteTask(ctx context.Context, projectID, id string) error {
	if err := validateID("project_id", projectID); err != nil {
		return err
	}
	_, err := storage.Update(ctx, c.kv, c.cfg.Retry, taskKey(projectID, id), func(cur storage.Record) ([]byte, error) {
		if cur.Version == 0 {
			return nil, core.ErrNotFound
		}
		var task core.Task
		if err := json.Unmarshal(cur.Doc, &task); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", id, err)
		}
		if task.Deleted {
			return nil, nil
		}
		task.Deleted = true
		task.UpdatedAt = c.now()
		return json.Marshal(task)
	})
	return err
}
