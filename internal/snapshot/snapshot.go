// Package snapshot records the fingerprints of a set of files and persists
// them between runs.
package snapshot

import (
	"sort"

	"incr/internal/fingerprint"
	"incr/shared/types"
)

// Snapshot maps absolute file paths to fingerprints, together with the
// roots the files were collected from. A Snapshot is never mutated after
// construction.
type Snapshot struct {
	algorithm string
	roots     []string
	files     map[string]fingerprint.Fingerprint
}

// New builds a snapshot from copies of roots and files.
func New(algorithm string, roots []string, files map[string]fingerprint.Fingerprint) *Snapshot {
	s := &Snapshot{
		algorithm: algorithm,
		roots:     append([]string(nil), roots...),
		files:     make(map[string]fingerprint.Fingerprint, len(files)),
	}
	for path, fp := range files {
		s.files[path] = fp
	}
	return s
}

// Empty returns a snapshot holding no files.
func Empty(algorithm string) *Snapshot {
	return New(algorithm, nil, nil)
}

func (s *Snapshot) Algorithm() string {
	return s.algorithm
}

func (s *Snapshot) Roots() []string {
	return append([]string(nil), s.roots...)
}

func (s *Snapshot) Len() int {
	return len(s.files)
}

func (s *Snapshot) Get(path string) (fingerprint.Fingerprint, bool) {
	fp, ok := s.files[path]
	return fp, ok
}

// Paths returns every file path in the snapshot, sorted.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for path := range s.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Diff compares a live snapshot against a historical one. A nil historical
// snapshot is treated as empty, so every live file is reported as created.
func Diff(live, historical *Snapshot) shared.ChangeSet {
	changes := make(shared.ChangeSet)

	var old map[string]fingerprint.Fingerprint
	if historical != nil {
		old = historical.files
	}
	var cur map[string]fingerprint.Fingerprint
	if live != nil {
		cur = live.files
	}

	for path, fp := range cur {
		prev, ok := old[path]
		switch {
		case !ok:
			changes[path] = shared.Created
		case !prev.Equal(fp):
			changes[path] = shared.Modified
		}
	}

	for path := range old {
		if _, ok := cur[path]; !ok {
			changes[path] = shared.Deleted
		}
	}

	return changes
}
