package coord

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/names"
	"github.com/mistakeknot/interlock/internal/storage"
)

// AgentID derives the stable id for a name. Registration is keyed purely by
// name, so the same logical agent resolves to the same id across restarts —
// and across racing processes, since both derive the same value.
func AgentID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return "agent-" + hex.EncodeToString(sum[:])[:12]
}

type agentIndexDoc struct {
	Names   map[string]string `json:"names"`
	Version uint64            `json:"version"`
	Deleted bool              `json:"is_deleted"`
}

type projectIndexDoc struct {
	IDs     []string `json:"ids"`
	Version uint64   `json:"version"`
	Deleted bool     `json:"is_deleted"`
}

// Register creates an agent profile on first sight of a name and reconnects
// on every later one: the existing id is returned with last_active and
// capabilities refreshed. An empty name gets a generated one the client
// must reuse to keep its identity.
func (c *Coordinator) Register(ctx context.Context, name string, typ core.AgentType, capabilities []string) (core.AgentProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = names.Generate()
	}
	if typ == "" {
		typ = core.AgentTypeAssistant
	}
	if !core.KnownAgentType(typ) {
		return core.AgentProfile{}, &core.ValidationError{Field: "agent_type", Reason: fmt.Sprintf("unknown type %q", typ)}
	}

	id := AgentID(name)
	now := c.now()
	var (
		profile core.AgentProfile
		created bool
	)
	newVersion, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentProfileKey(id), func(cur storage.Record) ([]byte, error) {
		if cur.Version == 0 {
			created = true
			profile = core.AgentProfile{
				ID:           id,
				Name:         name,
				Type:         typ,
				Capabilities: capabilities,
				Status:       core.AgentStatusActive,
				LastActive:   now,
				CreatedAt:    now,
			}
		} else {
			if err := json.Unmarshal(cur.Doc, &profile); err != nil {
				return nil, fmt.Errorf("decode profile %s: %w", id, err)
			}
			created = profile.Deleted // a retired name re-registers fresh
			profile.Deleted = false
			profile.Status = core.AgentStatusActive
			profile.LastActive = now
			if len(capabilities) > 0 {
				profile.Capabilities = capabilities
			}
		}
		return json.Marshal(profile)
	})
	if err != nil {
		return core.AgentProfile{}, err
	}
	profile.Version = newVersion

	if err := c.indexAgent(ctx, name, id); err != nil {
		return core.AgentProfile{}, err
	}
	if created {
		c.appendEvent(ctx, core.SessionEvent{
			AgentID: id,
			Kind:    core.EventRegistered,
			Payload: map[string]string{"name": name, "agent_type": string(typ)},
		})
	}
	c.broadcast("", id, core.Broadcast{
		Type:  core.BroadcastAgentRegistered,
		Agent: id,
		Data:  profile,
		At:    now,
	})
	return profile, nil
}

// GetAgent returns a profile by id. Tombstoned profiles read as not found.
func (c *Coordinator) GetAgent(ctx context.Context, agentID string) (core.AgentProfile, error) {
	if err := validateID("agent_id", agentID); err != nil {
		return core.AgentProfile{}, err
	}
	rec, err := c.kv.Get(ctx, agentProfileKey(agentID))
	if err != nil {
		return core.AgentProfile{}, err
	}
	var profile core.AgentProfile
	if err := json.Unmarshal(rec.Doc, &profile); err != nil {
		return core.AgentProfile{}, fmt.Errorf("decode profile %s: %w", agentID, err)
	}
	if profile.Deleted {
		return core.AgentProfile{}, core.ErrNotFound
	}
	return profile, nil
}

// ListAgents returns every live profile, sorted by name.
func (c *Coordinator) ListAgents(ctx context.Context) ([]core.AgentProfile, error) {
	rec, err := c.kv.Get(ctx, agentIndexKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index agentIndexDoc
	if err := json.Unmarshal(rec.Doc, &index); err != nil {
		return nil, fmt.Errorf("decode agent index: %w", err)
	}
	out := make([]core.AgentProfile, 0, len(index.Names))
	for _, id := range index.Names {
		profile, err := c.GetAgent(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RetireAgent tombstones a profile. The record stays on disk with a version
// bump; history and lock attribution survive.
func (c *Coordinator) RetireAgent(ctx context.Context, agentID string) error {
	if err := validateID("agent_id", agentID); err != nil {
		return err
	}
	found := false
	_, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentProfileKey(agentID), func(cur storage.Record) ([]byte, error) {
		if cur.Version == 0 {
			return nil, core.ErrNotFound
		}
		var profile core.AgentProfile
		if err := json.Unmarshal(cur.Doc, &profile); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", agentID, err)
		}
		if profile.Deleted {
			return nil, nil // already retired
		}
		found = true
		profile.Deleted = true
		profile.Status = core.AgentStatusRetired
		return json.Marshal(profile)
	})
	if err != nil {
		return err
	}
	if found {
		c.logf("coord: retired agent %s", agentID)
	}
	return nil
}

// touchAgent refreshes last_active after a coordination call. Best effort:
// losing this write never fails the operation that triggered it.
func (c *Coordinator) touchAgent(ctx context.Context, agentID string) {
	_, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentProfileKey(agentID), func(cur storage.Record) ([]byte, error) {
		if cur.Version == 0 {
			return nil, nil
		}
		var profile core.AgentProfile
		if err := json.Unmarshal(cur.Doc, &profile); err != nil {
			return nil, nil
		}
		profile.LastActive = c.now()
		return json.Marshal(profile)
	})
	if err != nil {
		c.logf("coord: touch %s: %v", agentID, err)
	}
}

func (c *Coordinator) indexAgent(ctx context.Context, name, id string) error {
	_, err := storage.Update(ctx, c.kv, c.cfg.Retry, agentIndexKey, func(cur storage.Record) ([]byte, error) {
		index := agentIndexDoc{Names: make(map[string]string)}
		if cur.Version > 0 {
			if err := json.Unmarshal(cur.Doc, &index); err != nil {
				return nil, fmt.Errorf("decode agent index: %w", err)
			}
			if index.Names == nil {
				index.Names = make(map[string]string)
			}
		}
		if index.Names[name] == id {
			return nil, nil // already indexed
		}
		index.Names[name] = id
		return json.Marshal(index)
	})
	return err
}

func (c *Coordinator) indexProject(ctx context.Context, projectID string) error {
	_, err := storage.Update(ctx, c.kv, c.cfg.Retry, projectIndexKey, func(cur storage.Record) ([]byte, error) {
		index := projectIndexDoc{}
		if cur.Version > 0 {
			if err := json.Unmarshal(cur.Doc, &index); err != nil {
				return nil, fmt.Errorf("decode project index: %w", err)
			}
		}
		for _, existing := range index.IDs {
			if existing == projectID {
				return nil, nil
			}
		}
		index.IDs = append(index.IDs, projectID)
		sort.Strings(index.IDs)
		return json.Marshal(index)
	})
	return err
}
