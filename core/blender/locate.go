package blender

import (
	"os"
	"os/exec"
)

// Location describes where a tool executable was found.
type Location struct {
	ExecutablePath string // Absolute path to the executable
	Source         Source // How the path was resolved
}

// Source identifies the resolution mechanism that produced a Location.
type Source string

const (
	// SourceOverride means the caller supplied the path explicitly.
	SourceOverride Source = "override"
	// SourceCached means the path came from the persisted tool record.
	SourceCached Source = "cached"
	// SourceCandidate means the path came from the candidate install list.
	SourceCandidate Source = "candidate"
	// SourcePath means the path came from a process search-path lookup.
	SourcePath Source = "path"
)

// Locator resolves the Blender executable from an ordered set of sources.
// Resolution is a pure filesystem read; absence is reported as a nil
// Location, not an error.
type Locator struct {
	// Cached is the persisted user-confirmed path, probed after an
	// explicit override and before the candidate list. May be empty.
	Cached string
	// Candidates are install locations to probe in order, newest-first.
	Candidates []string
	// LookupName is the executable name for the PATH lookup. Defaults to
	// ExecutableName when empty.
	LookupName string
}

// Locate resolves the executable path. Precedence: the override when it
// names an existing file, then the cached path, then the first existing
// candidate, then a search-path lookup. Returns nil when nothing is found.
func (l *Locator) Locate(override string) *Location {
	if override != "" && fileExists(override) {
		return &Location{ExecutablePath: override, Source: SourceOverride}
	}

	if l.Cached != "" && fileExists(l.Cached) {
		return &Location{ExecutablePath: l.Cached, Source: SourceCached}
	}

	for _, candidate := range l.Candidates {
		if fileExists(candidate) {
			return &Location{ExecutablePath: candidate, Source: SourceCandidate}
		}
	}

	name := l.LookupName
	if name == "" {
		name = ExecutableName()
	}
	if path, err := exec.LookPath(name); err == nil {
		return &Location{ExecutablePath: path, Source: SourcePath}
	}

	return nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
