// Package pathutil normalizes the repository-relative file paths used as
// lock slots. Locks are exact-path records; patterns are not accepted.
package pathutil

import (
	"fmt"
	"path"
	"strings"
)

const (
	MaxLength   = 1024
	MaxSegments = 50
)

// Normalize returns the canonical slash form of a lock path, so the same
// file always maps to the same lock slot. Absolute paths, parent escapes,
// and over-long paths are rejected.
func Normalize(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if len(p) > MaxLength {
		return "", fmt.Errorf("path exceeds %d bytes", MaxLength)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("path contains NUL")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path %q not allowed", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the project root", p)
	}
	if strings.Count(clean, "/")+1 > MaxSegments {
		return "", fmt.Errorf("path exceeds %d segments", MaxSegments)
	}
	return clean, nil
}

// NormalizeSet normalizes every path in files, rejecting duplicates that
// collapse to the same slot. Order of first appearance is preserved.
func NormalizeSet(files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		clean, err := Normalize(f)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out, nil
}
