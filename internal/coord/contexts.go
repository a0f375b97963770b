package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/pathutil"
	"github.com/mistakeknot/interlock/internal/storage"
)

// StartContext moves an agent from NONE to ACTIVE. An agent with an active
// context gets *core.ContextConflictError; it must end or switch instead.
func (c *Coordinator) StartContext(ctx context.Context, agentID, projectID, objective string, priority core.Priority) (core.WorkContext, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return core.WorkContext{}, err
	}
	if err := validateID("project_id", projectID); err != nil {
		return core.WorkContext{}, err
	}
	if strings.TrimSpace(objective) == "" {
		return core.WorkContext{}, &core.ValidationError{Field: "objective", Reason: "required"}
	}
	if priority != "" && priority != core.PriorityLow && priority != core.PriorityMedium && priority != core.PriorityHigh {
		return core.WorkContext{}, &core.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", priority)}
	}
	if _, err := c.GetAgent(ctx, agentID); err != nil {
		return core.WorkContext{}, err
	}

	now := c.now()
	wc := core.WorkContext{
		AgentID:   agentID,
		ProjectID: projectID,
		Objective: objective,
		Priority:  priority,
		StartedAt: now,
	}
	newVersion, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentContextKey(agentID), func(cur storage.Record) ([]byte, error) {
		if cur.Version > 0 {
			var existing core.WorkContext
			if err := json.Unmarshal(cur.Doc, &existing); err != nil {
				return nil, fmt.Errorf("decode context %s: %w", agentID, err)
			}
			if !existing.Deleted {
				return nil, &core.ContextConflictError{AgentID: agentID, ProjectID: existing.ProjectID}
			}
		}
		return json.Marshal(wc)
	})
	if err != nil {
		return core.WorkContext{}, err
	}
	wc.Version = newVersion

	if err := c.indexProject(ctx, projectID); err != nil {
		c.logf("coord: index project %s: %v", projectID, err)
	}
	c.appendEvent(ctx, core.SessionEvent{
		AgentID:   agentID,
		ProjectID: projectID,
		Kind:      core.EventStarted,
		Payload:   map[string]string{"objective": objective},
	})
	c.touchAgent(ctx, agentID)
	c.broadcast(projectID, agentID, core.Broadcast{
		Type: core.BroadcastContextStarted, Project: projectID, Agent: agentID, Data: wc, At: now,
	})
	return wc, nil
}

// SwitchContext atomically replaces an active context's project and
// objective. It does not release the agent's file locks — callers wanting
// that must release explicitly before switching.
func (c *Coordinator) SwitchContext(ctx context.Context, agentID, newProjectID, newObjective string) (core.WorkContext, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return core.WorkContext{}, err
	}
	if err := validateID("project_id", newProjectID); err != nil {
		return core.WorkContext{}, err
	}
	if strings.TrimSpace(newObjective) == "" {
		return core.WorkContext{}, &core.ValidationError{Field: "objective", Reason: "required"}
	}

	now := c.now()
	var fromProject, fromObjective string
	var wc core.WorkContext
	newVersion, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentContextKey(agentID), func(cur storage.Record) ([]byte, error) {
		existing, err := decodeActiveContext(agentID, cur)
		if err != nil {
			return nil, err
		}
		fromProject = existing.ProjectID
		fromObjective = existing.Objective
		wc = core.WorkContext{
			AgentID:   agentID,
			ProjectID: newProjectID,
			Objective: newObjective,
			Priority:  existing.Priority,
			StartedAt: now,
		}
		return json.Marshal(wc)
	})
	if err != nil {
		return core.WorkContext{}, err
	}
	wc.Version = newVersion

	if err := c.indexProject(ctx, newProjectID); err != nil {
		c.logf("coord: index project %s: %v", newProjectID, err)
	}
	c.appendEvent(ctx, core.SessionEvent{
		AgentID:   agentID,
		ProjectID: newProjectID,
		Kind:      core.EventSwitched,
		Payload: map[string]string{
			"from_project":   fromProject,
			"from_objective": fromObjective,
			"to_project":     newProjectID,
			"to_objective":   newObjective,
		},
	})
	c.touchAgent(ctx, agentID)
	c.broadcast(newProjectID, agentID, core.Broadcast{
		Type: core.BroadcastContextSwitched, Project: newProjectID, Agent: agentID, Data: wc, At: now,
	})
	return wc, nil
}

// EndContext moves ACTIVE to NONE by tombstoning the context record. Ending
// when no context is active returns core.ErrNotActive, which callers should
// treat as a benign no-op so cleanup sequences never abort. Locks held by
// the agent stay attributed to it until released or expired.
func (c *Coordinator) EndContext(ctx context.Context, agentID string) (core.WorkContext, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return core.WorkContext{}, err
	}

	now := c.now()
	var wc core.WorkContext
	newVersion, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentContextKey(agentID), func(cur storage.Record) ([]byte, error) {
		existing, err := decodeActiveContext(agentID, cur)
		if err != nil {
			return nil, err
		}
		wc = existing
		wc.Deleted = true
		ended := now
		wc.EndedAt = &ended
		return json.Marshal(wc)
	})
	if err != nil {
		return core.WorkContext{}, err
	}
	wc.Version = newVersion

	c.appendEvent(ctx, core.SessionEvent{
		AgentID:   agentID,
		ProjectID: wc.ProjectID,
		Kind:      core.EventEnded,
		Payload:   map[string]string{"objective": wc.Objective},
	})
	c.touchAgent(ctx, agentID)
	c.broadcast(wc.ProjectID, agentID, core.Broadcast{
		Type: core.BroadcastContextEnded, Project: wc.ProjectID, Agent: agentID, Data: wc, At: now,
	})
	return wc, nil
}

// ActiveContext returns the agent's current context, or core.ErrNotActive.
func (c *Coordinator) ActiveContext(ctx context.Context, agentID string) (core.WorkContext, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return core.WorkContext{}, err
	}
	rec, err := c.kv.Get(ctx, agentContextKey(agentID))
	if errors.Is(err, core.ErrNotFound) {
		return core.WorkContext{}, core.ErrNotActive
	}
	if err != nil {
		return core.WorkContext{}, err
	}
	return decodeActiveContext(agentID, rec)
}

// SetCurrentFile records which file the agent is focused on. Informational
// only; it takes no lock.
func (c *Coordinator) SetCurrentFile(ctx context.Context, agentID, file string) (core.WorkContext, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return core.WorkContext{}, err
	}
	clean := ""
	if strings.TrimSpace(file) != "" {
		var err error
		clean, err = pathutil.Normalize(file)
		if err != nil {
			return core.WorkContext{}, &core.ValidationError{Field: "current_file", Reason: err.Error()}
		}
	}

	var wc core.WorkContext
	newVersion, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentContextKey(agentID), func(cur storage.Record) ([]byte, error) {
		existing, err := decodeActiveContext(agentID, cur)
		if err != nil {
			return nil, err
		}
		existing.CurrentFile = clean
		wc = existing
		return json.Marshal(existing)
	})
	if err != nil {
		return core.WorkContext{}, err
	}
	wc.Version = newVersion
	return wc, nil
}

// decodeActiveContext treats both "no record" and "tombstoned record" as
// NONE.
func decodeActiveContext(agentID string, cur storage.Record) (core.WorkContext, error) {
	if cur.Version == 0 {
		return core.WorkContext{}, core.ErrNotActive
	}
	var wc core.WorkContext
	if err := json.Unmarshal(cur.Doc, &wc); err != nil {
		return core.WorkContext{}, fmt.Errorf("decode context %s: %w", agentID, err)
	}
	if wc.Deleted {
		return core.WorkContext{}, core.ErrNotActive
	}
	return wc, nil
}

