package shared

import "sort"

// ChangeKind classifies how a file differs from its recorded state.
type ChangeKind string

const (
	Created  ChangeKind = "created"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
)

// Change represents a single changed file
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// ChangeSet maps an absolute file path to how it changed. Unchanged files
// never appear.
type ChangeSet map[string]ChangeKind

func (cs ChangeSet) Len() int {
	return len(cs)
}

func (cs ChangeSet) Empty() bool {
	return len(cs) == 0
}

// Changes returns the set as a slice sorted by path.
func (cs ChangeSet) Changes() []Change {
	changes := make([]Change, 0, len(cs))
	for path, kind := range cs {
		changes = append(changes, Change{Path: path, Kind: kind})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes
}

// Paths returns the paths with the given kind, sorted.
func (cs ChangeSet) Paths(kind ChangeKind) []string {
	var paths []string
	for path, k := range cs {
		if k == kind {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Count returns how many entries have the given kind.
func (cs ChangeSet) Count(kind ChangeKind) int {
	n := 0
	for _, k := range cs {
		if k == kind {
			n++
		}
	}
	return n
}
