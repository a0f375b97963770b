// Package storage defines the per-key document engine the coordination
// entities sit on. Every record is one JSON document with an embedded
// version counter; writers must read-verify-write (optimistic concurrency).
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Record is one stored document.
type Record struct {
	Key     string
	Version uint64
	Doc     json.RawMessage
}

// Engine is the storage contract. Put and Delete take the version the
// caller last observed; a mismatch returns *core.VersionConflictError
// carrying the stored version. expectedVersion 0 means "create, must not
// already exist". Get returns core.ErrNotFound for unknown keys and never
// filters tombstones — that is the typed layer's job.
type Engine interface {
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, key string, doc []byte, expectedVersion uint64) (uint64, error)
	Delete(ctx context.Context, key string, expectedVersion uint64) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// versionDoc is the envelope every stored document shares.
type versionDoc struct {
	Version uint64 `json:"version"`
}

// DocVersion extracts the version counter from a stored document.
func DocVersion(doc []byte) (uint64, error) {
	var v versionDoc
	if err := json.Unmarshal(doc, &v); err != nil {
		return 0, fmt.Errorf("decode version: %w", err)
	}
	return v.Version, nil
}

// StampVersion returns doc with its "version" field set to v. Documents are
// objects; anything else is a caller bug.
func StampVersion(doc []byte, v uint64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode doc: %w", err)
	}
	m["version"] = v
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode doc: %w", err)
	}
	return out, nil
}

// ValidateKey rejects keys that would escape the data root or collide with
// engine bookkeeping files.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if key[0] == '/' || key[len(key)-1] == '/' {
		return fmt.Errorf("key %q must not start or end with a slash", key)
	}
	start := 0
	for i := 0; i <= len(key); i++ {
		if i == len(key) || key[i] == '/' {
			seg := key[start:i]
			if seg == "" || seg == "." || seg == ".." {
				return fmt.Errorf("key %q has invalid segment %q", key, seg)
			}
			start = i + 1
		}
	}
	return nil
}
