// Package filekv is the file-backed storage engine. One JSON document per
// key, staged writes renamed into place, and a short-lived per-key advisory
// lock around each read-verify-write cycle so independent processes sharing
// the data root never corrupt each other. Unrelated keys never contend.
package filekv

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

const (
	docSuffix        = ".json"
	lockSuffix       = ".lock"
	quarantineMarker = ".corrupt-"
	stagePrefix      = ".staged-"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the resolved data directory.
func (s *Store) Root() string { return s.root }

func (s *Store) docPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key)) + docSuffix
}

// Get reads a document without taking the key lock: the staged-rename write
// path guarantees a reader sees either the old or the new document, never a
// torn one.
func (s *Store) Get(ctx context.Context, key string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return storage.Record{}, err
	}
	path := s.docPath(key)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return storage.Record{}, core.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("read %s: %w", key, err)
	}
	version, err := decodeVersion(raw)
	if err != nil {
		return storage.Record{}, s.quarantine(key, path, err)
	}
	return storage.Record{Key: key, Version: version, Doc: raw}, nil
}

// Put performs the optimistic write: under the key's advisory lock it
// re-reads the stored version, verifies it against expectedVersion, stamps
// the successor version into doc, and renames the staged file into place.
func (s *Store) Put(ctx context.Context, key string, doc []byte, expectedVersion uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return 0, err
	}
	path := s.docPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create key dir: %w", err)
	}

	var newVersion uint64
	err := s.withKeyLock(path, func() error {
		stored, err := s.storedVersion(key, path)
		if err != nil {
			return err
		}
		if stored != expectedVersion {
			return &core.VersionConflictError{Key: key, Expected: expectedVersion, Actual: stored}
		}
		newVersion = expectedVersion + 1
		stamped, err := storage.StampVersion(doc, newVersion)
		if err != nil {
			return err
		}
		return writeStaged(path, stamped)
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (s *Store) Delete(ctx context.Context, key string, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	path := s.docPath(key)
	return s.withKeyLock(path, func() error {
		stored, err := s.storedVersion(key, path)
		if err != nil {
			return err
		}
		if stored == 0 {
			return core.ErrNotFound
		}
		if stored != expectedVersion {
			return &core.VersionConflictError{Key: key, Expected: expectedVersion, Actual: stored}
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
		return nil
	})
}

// List walks the tree under the data root and returns every key with the
// given prefix, sorted. Quarantined and bookkeeping files are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, docSuffix) ||
			strings.HasPrefix(name, stagePrefix) ||
			strings.Contains(name, quarantineMarker) ||
			strings.HasSuffix(name, lockSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), docSuffix)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return keys, nil
}

// storedVersion reads the version on disk, 0 when the key is absent. Must
// be called with the key lock held.
func (s *Store) storedVersion(key, path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	version, err := decodeVersion(raw)
	if err != nil {
		return 0, s.quarantineLocked(key, path, err)
	}
	return version, nil
}

// quarantine is the entry point for the lock-free read path: it takes the
// key lock and delegates. Write paths already hold the lock and must call
// quarantineLocked directly; re-acquiring here would deadlock on the
// caller's own flock.
func (s *Store) quarantine(key, path string, cause error) error {
	var result error
	lockErr := s.withKeyLock(path, func() error {
		result = s.quarantineLocked(key, path, cause)
		return nil
	})
	if lockErr != nil {
		return fmt.Errorf("quarantine %s: %w", key, lockErr)
	}
	return result
}

// quarantineLocked renames an undecodable document aside so one bad record
// never blocks unrelated keys, then reports it as corruption. A concurrent
// writer may already have replaced or removed the file, so the document is
// re-checked first. The key lock must be held.
func (s *Store) quarantineLocked(key, path string, cause error) error {
	aside := path + quarantineMarker + fmt.Sprintf("%d", time.Now().UnixNano())
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("quarantine %s: %w", key, err)
	}
	if err == nil {
		if _, decodeErr := decodeVersion(raw); decodeErr != nil {
			if err := os.Rename(path, aside); err != nil {
				return fmt.Errorf("quarantine %s: %w", key, err)
			}
		}
	}
	return &core.CorruptRecordError{Key: key, Quarantined: aside, Err: cause}
}

func decodeVersion(raw []byte) (uint64, error) {
	if !json.Valid(raw) {
		return 0, fmt.Errorf("invalid JSON")
	}
	return storage.DocVersion(raw)
}

// writeStaged stages data to a temp file in the target directory, syncs it,
// and renames it over the target so readers never observe a partial write.
func writeStaged(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, stagePrefix+"*")
	if err != nil {
		return fmt.Errorf("stage write: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("stage write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync staged write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close staged write: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish write: %w", err)
	}
	return nil
}
