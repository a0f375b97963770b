package filekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st
}

func TestPutGetRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	doc := []byte(`{"id":"a1","name":"alpha"}`)
	v, err := st.Put(ctx, "agents/a1/profile", doc, 0)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}

	rec, err := st.Get(ctx, "agents/a1/profile")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected stored version 1, got %d", rec.Version)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Doc, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["name"] != "alpha" {
		t.Fatalf("expected name alpha, got %v", got["name"])
	}
	if got["version"].(float64) != 1 {
		t.Fatalf("expected embedded version 1, got %v", got["version"])
	}
}

func TestPutCreateMustNotExist(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Put(ctx, "k", []byte(`{"a":1}`), 0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := st.Put(ctx, "k", []byte(`{"a":2}`), 0)
	var conflict *core.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if conflict.Actual != 1 {
		t.Fatalf("conflict should carry stored version 1, got %d", conflict.Actual)
	}
}

func TestPutStaleVersionRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Put(ctx, "k", []byte(`{"n":1}`), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Put(ctx, "k", []byte(`{"n":2}`), 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A writer still holding version 1 must lose.
	_, err := st.Put(ctx, "k", []byte(`{"n":3}`), 1)
	var conflict *core.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Fatalf("unexpected conflict detail: %+v", conflict)
	}
}

func TestGetMissing(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Get(context.Background(), "nope/missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteVersionChecked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Put(ctx, "k", []byte(`{"n":1}`), 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	var conflict *core.VersionConflictError
	if err := st.Delete(ctx, "k", 9); !errors.As(err, &conflict) {
		t.Fatalf("stale delete expected conflict, got %v", err)
	}
	if err := st.Delete(ctx, "k", 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, "k", 1); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("double delete expected ErrNotFound, got %v", err)
	}
	if _, err := st.Get(ctx, "k"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete expected ErrNotFound, got %v", err)
	}
}

func TestListPrefix(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{
		"projects/p1/locks/a",
		"projects/p1/locks/b",
		"projects/p2/locks/c",
		"agents/x/profile",
	} {
		if _, err := st.Put(ctx, key, []byte(`{}`), 0); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	keys, err := st.List(ctx, "projects/p1/locks/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if keys[0] != "projects/p1/locks/a" || keys[1] != "projects/p1/locks/b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestListSkipsBookkeepingFiles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if _, err := st.Put(ctx, "ns/doc", []byte(`{}`), 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Sidecar lock files and quarantined records must not appear as keys.
	if _, err := st.Get(ctx, "ns/doc"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := os.WriteFile(filepath.Join(st.Root(), "ns", "doc.json.corrupt-123"), []byte("junk"), 0644); err != nil {
		t.Fatalf("plant quarantined file: %v", err)
	}

	keys, err := st.List(ctx, "ns/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "ns/doc" {
		t.Fatalf("expected only ns/doc, got %v", keys)
	}
}

func TestCorruptRecordQuarantined(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Put(ctx, "bad/doc", []byte(`{"n":1}`), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	path := filepath.Join(st.Root(), "bad", "doc.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	_, err := st.Get(ctx, "bad/doc")
	var corrupt *core.CorruptRecordError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptRecordError, got %v", err)
	}
	if _, statErr := os.Stat(corrupt.Quarantined); statErr != nil {
		t.Fatalf("quarantined file missing: %v", statErr)
	}

	// The slot is free again: a fresh create must succeed.
	if _, err := st.Put(ctx, "bad/doc", []byte(`{"n":2}`), 0); err != nil {
		t.Fatalf("put after quarantine: %v", err)
	}

	// Unrelated keys were never affected.
	if _, err := st.Put(ctx, "good/doc", []byte(`{}`), 0); err != nil {
		t.Fatalf("unrelated put: %v", err)
	}
}

// TestPutQuarantinesCorruptRecord writes through a corrupted slot. The
// write path discovers the corruption while already holding the key lock,
// so it must quarantine in place and return promptly rather than wait on
// its own lock.
func TestPutQuarantinesCorruptRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Put(ctx, "bad/doc", []byte(`{"n":1}`), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	path := filepath.Join(st.Root(), "bad", "doc.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := st.Put(ctx, "bad/doc", []byte(`{"n":2}`), 1)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("put on corrupt record did not return")
	}
	var corrupt *core.CorruptRecordError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptRecordError, got %v", err)
	}
	if _, statErr := os.Stat(corrupt.Quarantined); statErr != nil {
		t.Fatalf("quarantined file missing: %v", statErr)
	}

	// The slot is free again at version 0.
	if _, err := st.Put(ctx, "bad/doc", []byte(`{"n":3}`), 0); err != nil {
		t.Fatalf("put after quarantine: %v", err)
	}

	// Delete hits the same in-lock path.
	if err := os.WriteFile(path, []byte("{truncated"), 0644); err != nil {
		t.Fatalf("corrupt file again: %v", err)
	}
	go func() { done <- st.Delete(ctx, "bad/doc", 1) }()
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("delete on corrupt record did not return")
	}
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptRecordError from delete, got %v", err)
	}
}

func TestInvalidKeysRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "/abs", "trailing/", "a//b", "a/../b", "."} {
		if _, err := st.Put(ctx, key, []byte(`{}`), 0); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
}

// TestConcurrentCreateSingleWinner drives N goroutines through separate
// Store handles on the same directory, as separate processes would.
// Exactly one create of the same key may win.
func TestConcurrentCreateSingleWinner(t *testing.T) {
	dir := t.TempDir()
	const workers = 8

	var (
		wg     sync.WaitGroup
		wins   atomic.Int32
		losses atomic.Int32
	)
	for i := 0; i < workers; i++ {
		st, err := New(dir)
		if err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
		wg.Add(1)
		go func(st *Store, id int) {
			defer wg.Done()
			doc := []byte(fmt.Sprintf(`{"holder":"agent-%d"}`, id))
			_, err := st.Put(context.Background(), "projects/p/locks/shared", doc, 0)
			if err == nil {
				wins.Add(1)
				return
			}
			var conflict *core.VersionConflictError
			if errors.As(err, &conflict) {
				losses.Add(1)
				return
			}
			t.Errorf("worker %d: unexpected error %v", id, err)
		}(st, i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly 1 winner, got %d (losses %d)", wins.Load(), losses.Load())
	}
	if losses.Load() != workers-1 {
		t.Fatalf("expected %d version conflicts, got %d", workers-1, losses.Load())
	}
}

// TestConcurrentUpdatesSerialize has every worker increment a counter via
// read-verify-write with its own retry loop; no increment may be lost.
func TestConcurrentUpdatesSerialize(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	seed, err := New(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := seed.Put(ctx, "counter", []byte(`{"n":0}`), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 6
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		st, err := New(dir)
		if err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
		wg.Add(1)
		go func(st *Store) {
			defer wg.Done()
			for {
				rec, err := st.Get(ctx, "counter")
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				var doc struct {
					N int `json:"n"`
				}
				if err := json.Unmarshal(rec.Doc, &doc); err != nil {
					t.Errorf("decode: %v", err)
					return
				}
				next, _ := json.Marshal(map[string]int{"n": doc.N + 1})
				_, err = st.Put(ctx, "counter", next, rec.Version)
				if err == nil {
					return
				}
				var conflict *core.VersionConflictError
				if !errors.As(err, &conflict) {
					t.Errorf("put: %v", err)
					return
				}
			}
		}(st)
	}
	wg.Wait()

	rec, err := seed.Get(ctx, "counter")
	if err != nil {
		t.Fatalf("final get: %v", err)
	}
	var doc struct {
		N int `json:"n"`
	}
	if err := json.Unmarshal(rec.Doc, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.N != workers {
		t.Fatalf("expected %d increments, got %d", workers, doc.N)
	}
	if rec.Version != uint64(workers+1) {
		t.Fatalf("expected version %d, got %d", workers+1, rec.Version)
	}
}
