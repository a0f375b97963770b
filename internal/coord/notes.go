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

// Notes are small messages agents leave for each other; plain CRUD data.

func (c *Coordinator) CreateNote(ctx context.Context, note core.Note) (core.Note, error) {
	if err := validateID("project_id", note.ProjectID); err != nil {
		return core.Note{}, err
	}
	if strings.TrimSpace(note.From) == "" {
		return core.Note{}, &core.ValidationError{Field: "from", Reason: "required"}
	}
	if strings.TrimSpace(note.Body) == "" {
		return core.Note{}, &core.ValidationError{Field: "body", Reason: "required"}
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	now := c.now()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.Deleted = false

	doc, err := json.Marshal(note)
	if err != nil {
		return core.Note{}, err
	}
	newVersion, err := c.kv.Put(ctx, noteKey(note.ProjectID, note.ID), doc, 0)
	if err != nil {
		return core.Note{}, fmt.Errorf("create note: %w", err)
	}
	note.Version = newVersion
	c.broadcast(note.ProjectID, note.To, core.Broadcast{
		Type: core.BroadcastNoteCreated, Project: note.ProjectID, Agent: note.To, Data: note, At: now,
	})
	return note, nil
}

// ListNotes returns a project's live notes, optionally filtered by
// recipient, newest first.
func (c *Coordinator) ListNotes(ctx context.Context, projectID, to string, limit int) ([]core.Note, error) {
	if err := validateID("project_id", projectID); err != nil {
		return nil, err
	}
	keys, err := c.kv.List(ctx, notePrefix(projectID))
	if err != nil {
		return nil, err
	}
	var out []core.Note
	for _, key := range keys {
		rec, err := c.kv.Get(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var note core.Note
		if err := json.Unmarshal(rec.Doc, &note); err != nil {
			return nil, fmt.Errorf("decode note %s: %w", key, err)
		}
		if note.Deleted {
			continue
		}
		if to != "" && note.To != to {
			continue
		}
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteNote tombstones a note.
func (c *Coordinator) DeleteNote(ctx context.Context, projectID, id string) error {
	if err := validateID("project_id", projectID); err != nil {
		return err
	}
	_, err := storage.Update(ctx, c.kv, c.cfg.Retry, noteKey(projectID, id), func(cur storage.Record) ([]byte, error) {
		if cur.Version == 0 {
			return nil, core.ErrNotFound
		}
		var note core.Note
		if err := json.Unmarshal(cur.Doc, &note); err != nil {
			return nil, fmt.Errorf("decode note %s: %w", id, err)
		}
		if note.Deleted {
			return nil, nil
		}
		note.Deleted = true
		return json.Marshal(note)
	})
	return err
}
