package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// appendEvent writes one entry to an agent's session log. The log is audit
// history: failing to append never fails the operation being recorded.
func (c *Coordinator) appendEvent(ctx context.Context, ev core.SessionEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	doc, err := json.Marshal(ev)
	if err != nil {
		c.logf("coord: encode event for %s: %v", ev.AgentID, err)
		return
	}
	key := sessionKey(ev.AgentID, ev.At.UnixNano())
	if _, err := c.kv.Put(ctx, key, doc, 0); err != nil {
		c.logf("coord: append event for %s: %v", ev.AgentID, err)
	}
}

// History returns an agent's session events, newest first. limit <= 0 uses
// the retention cap.
func (c *Coordinator) History(ctx context.Context, agentID string, limit int) ([]core.SessionEvent, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > c.cfg.RetentionMaxEvents {
		limit = c.cfg.RetentionMaxEvents
	}
	keys, err := c.kv.List(ctx, sessionPrefix(agentID))
	if err != nil {
		return nil, err
	}
	// Keys sort chronologically; walk from the tail for newest-first.
	out := make([]core.SessionEvent, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(out) < limit; i-- {
		ev, ok, err := c.readEvent(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Progress reports how far an agent's observed event kinds have advanced
// through an expected step sequence.
type Progress struct {
	Steps     []core.EventKind `json:"steps"`
	Completed int              `json:"completed"`
	Done      bool             `json:"done"`
	NextStep  core.EventKind   `json:"next_step,omitempty"`
}

// WorkflowProgress matches the agent's history, oldest first, against the
// expected steps: each observed event advances the cursor when its kind
// equals the next expected step. Extra events between steps are ignored.
func (c *Coordinator) WorkflowProgress(ctx context.Context, agentID string, steps []core.EventKind) (Progress, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return Progress{}, err
	}
	if len(steps) == 0 {
		return Progress{}, &core.ValidationError{Field: "steps", Reason: "empty step sequence"}
	}
	for _, s := range steps {
		if !core.KnownEventKind(s) {
			return Progress{}, &core.ValidationError{Field: "steps", Reason: fmt.Sprintf("unknown event kind %q", s)}
		}
	}

	keys, err := c.kv.List(ctx, sessionPrefix(agentID))
	if err != nil {
		return Progress{}, err
	}
	cursor := 0
	for _, key := range keys {
		if cursor == len(steps) {
			break
		}
		ev, ok, err := c.readEvent(ctx, key)
		if err != nil {
			return Progress{}, err
		}
		if ok && ev.Kind == steps[cursor] {
			cursor++
		}
	}
	p := Progress{Steps: steps, Completed: cursor, Done: cursor == len(steps)}
	if !p.Done {
		p.NextStep = steps[cursor]
	}
	return p, nil
}

// PruneSessions enforces the retention policy: per agent, events beyond the
// max count or older than the max age are physically deleted. Session
// events are operational history, not tombstoned entities.
func (c *Coordinator) PruneSessions(ctx context.Context) (int, error) {
	keys, err := c.kv.List(ctx, "agents/")
	if err != nil {
		return 0, err
	}
	perAgent := make(map[string][]string)
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, "agents/")
		if !ok {
			continue
		}
		agentID, tail, ok := strings.Cut(rest, "/")
		if !ok || !strings.HasPrefix(tail, "sessions/") {
			continue
		}
		perAgent[agentID] = append(perAgent[agentID], key)
	}

	cutoff := c.now().Add(-c.cfg.RetentionMaxAge)
	pruned := 0
	for _, agentKeys := range perAgent {
		// Keys are chronological; everything before the retention window
		// or beyond the count cap goes.
		excess := len(agentKeys) - c.cfg.RetentionMaxEvents
		for i, key := range agentKeys {
			drop := i < excess
			if !drop {
				ev, ok, err := c.readEvent(ctx, key)
				if err != nil {
					return pruned, err
				}
				drop = ok && ev.At.Before(cutoff)
				if !ok {
					drop = true
				}
			}
			if !drop {
				break // later keys are newer
			}
			removed, err := storage.DeleteChecked(ctx, c.kv, c.cfg.Retry, key, func(storage.Record) (bool, error) {
				return true, nil
			})
			if err != nil {
				c.logf("coord: prune %s: %v", key, err)
				continue
			}
			if removed {
				pruned++
			}
		}
	}
	return pruned, nil
}

func (c *Coordinator) readEvent(ctx context.Context, key string) (core.SessionEvent, bool, error) {
	rec, err := c.kv.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return core.SessionEvent{}, false, nil
	}
	var corrupt *core.CorruptRecordError
	if errors.As(err, &corrupt) {
		c.logf("coord: skipping %v", err)
		return core.SessionEvent{}, false, nil
	}
	if err != nil {
		return core.SessionEvent{}, false, err
	}
	var ev core.SessionEvent
	if err := json.Unmarshal(rec.Doc, &ev); err != nil {
		return core.SessionEvent{}, false, fmt.Errorf("decode event %s: %w", key, err)
	}
	if ev.Deleted {
		return core.SessionEvent{}, false, nil
	}
	return ev, true, nil
}
