// Package toolconfig persists the user-confirmed 3D tool path and the
// candidate install locations across runs.
//
// Two records live under the config directory:
//   - tool_path.txt: single plain-text line holding the last confirmed
//     executable path. Missing or stale content is not an error.
//   - candidates.json: optional JSON array of install locations to probe,
//     newest-first, replacing the built-in defaults.
package toolconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// ToolPathFile is the file name of the persisted tool path record.
	ToolPathFile = "tool_path.txt"
	// CandidatesFile is the file name of the candidate list override.
	CandidatesFile = "candidates.json"
)

// Store reads and writes persisted tool configuration under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created lazily
// on the first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the configuration directory.
func (s *Store) Dir() string {
	return s.dir
}

// LoadToolPath returns the persisted tool path, or "" when no record
// exists, the record is empty, or the recorded path no longer exists on
// disk. Absence is a normal outcome, never an error.
func (s *Store) LoadToolPath() string {
	data, err := os.ReadFile(filepath.Join(s.dir, ToolPathFile))
	if err != nil {
		return ""
	}
	path := strings.TrimSpace(string(data))
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// SaveToolPath persists a confirmed tool path. The record is replaced
// atomically so a concurrent reader never observes a partial write.
func (s *Store) SaveToolPath(path string) error {
	if path == "" {
		return fmt.Errorf("tool path cannot be empty")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	target := filepath.Join(s.dir, ToolPathFile)
	tmp, err := os.CreateTemp(s.dir, ToolPathFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(path + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write tool path: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace tool path record: %w", err)
	}
	return nil
}

// ClearToolPath removes the persisted record. Removing a record that does
// not exist is not an error.
func (s *Store) ClearToolPath() error {
	err := os.Remove(filepath.Join(s.dir, ToolPathFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove tool path record: %w", err)
	}
	return nil
}

// LoadCandidates returns the candidate install locations to probe, in
// precedence order. A valid candidates.json replaces the built-in
// defaults entirely; a missing or malformed file falls back to them.
func (s *Store) LoadCandidates() []string {
	data, err := os.ReadFile(filepath.Join(s.dir, CandidatesFile))
	if err != nil {
		return DefaultCandidates()
	}

	var candidates []string
	if err := json.Unmarshal(data, &candidates); err != nil {
		return DefaultCandidates()
	}

	out := candidates[:0]
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return DefaultCandidates()
	}
	return out
}

// SaveCandidates writes a candidate list override.
func (s *Store) SaveCandidates(candidates []string) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize candidates: %w", err)
	}
	target := filepath.Join(s.dir, CandidatesFile)
	if err := os.WriteFile(target, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write candidates: %w", err)
	}
	return nil
}

// blenderVersions enumerates release series to probe, newest-first.
var blenderVersions = []string{
	"4.5", "4.4", "4.3", "4.2", "4.1", "4.0",
	"3.6", "3.5", "3.4", "3.3", "3.2", "3.1", "3.0",
}

// DefaultCandidates returns the built-in install locations for the current
// platform, newest version first.
func DefaultCandidates() []string {
	switch runtime.GOOS {
	case "windows":
		candidates := make([]string, 0, len(blenderVersions))
		for _, v := range blenderVersions {
			candidates = append(candidates,
				filepath.Join(`C:\Program Files\Blender Foundation`, "Blender "+v, "blender.exe"))
		}
		return candidates
	case "darwin":
		candidates := []string{"/Applications/Blender.app/Contents/MacOS/Blender"}
		for _, v := range blenderVersions {
			candidates = append(candidates,
				filepath.Join("/Applications", "Blender "+v, "Blender.app/Contents/MacOS/Blender"))
		}
		return candidates
	default:
		candidates := []string{
			"/usr/bin/blender",
			"/usr/local/bin/blender",
			"/snap/bin/blender",
			"/opt/blender/blender",
		}
		for _, v := range blenderVersions {
			candidates = append(candidates,
				filepath.Join("/opt", "blender-"+v, "blender"))
		}
		return candidates
	}
}

// DefaultDir returns the per-user configuration directory for planforge.
func DefaultDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".planforge"
	}
	return filepath.Join(base, "planforge")
}
