package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mistakeknot/interlock/internal/core"
)

// Memory is an in-process engine with the same version semantics as the
// file-backed one. Handler and client tests run on it.
type Memory struct {
	mu   sync.Mutex
	docs map[string]Record
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Record)}
}

func (m *Memory) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.docs[key]
	if !ok {
		return Record{}, core.ErrNotFound
	}
	out := rec
	out.Doc = append([]byte(nil), rec.Doc...)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, key string, doc []byte, expectedVersion uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored uint64
	if cur, ok := m.docs[key]; ok {
		stored = cur.Version
	}
	if stored != expectedVersion {
		return 0, &core.VersionConflictError{Key: key, Expected: expectedVersion, Actual: stored}
	}
	newVersion := expectedVersion + 1
	stamped, err := StampVersion(doc, newVersion)
	if err != nil {
		return 0, err
	}
	m.docs[key] = Record{Key: key, Version: newVersion, Doc: stamped}
	return newVersion, nil
}

func (m *Memory) Delete(ctx context.Context, key string, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[key]
	if !ok {
		return core.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return &core.VersionConflictError{Key: key, Expected: expectedVersion, Actual: cur.Version}
	}
	delete(m.docs, key)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
