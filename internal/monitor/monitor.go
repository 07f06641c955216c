// Package monitor tracks one group of root paths and reports how the files
// beneath them changed since a recorded snapshot.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"

	"incr/internal/logging"
	"incr/internal/snapshot"
	"incr/shared/types"

	"go.uber.org/zap"
)

// Monitor owns a set of root paths and, optionally, the historical
// snapshot loaded for them. A Monitor lives for a single invocation.
type Monitor struct {
	name   string
	store  *snapshot.Store
	logger *zap.Logger

	roots   []string
	rootSet map[string]bool
	exclude []string

	history  *snapshot.Snapshot // nil means no history was loaded
	baseline *snapshot.Snapshot // set by Rebaseline, persisted by Write
}

// New creates a monitor backed by store. name only labels log output.
func New(name string, store *snapshot.Store, logger *zap.Logger) *Monitor {
	logger = logging.OrNop(logger)
	return &Monitor{
		name:    name,
		store:   store,
		logger:  logger.With(zap.String("monitor", name)),
		rootSet: make(map[string]bool),
	}
}

// RegisterRoot adds path to the tracked roots. The filesystem is not
// touched; directories are expanded when scanned.
func (m *Monitor) RegisterRoot(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if m.rootSet[abs] {
		return
	}
	m.rootSet[abs] = true
	m.roots = append(m.roots, abs)
}

// Exclude keeps path, a file or directory, out of every scan even when it
// lies below a registered root.
func (m *Monitor) Exclude(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	m.exclude = append(m.exclude, abs)
}

// Roots returns the registered roots in registration order.
func (m *Monitor) Roots() []string {
	return append([]string(nil), m.roots...)
}

// History returns the loaded historical snapshot, or nil when none is
// loaded.
func (m *Monitor) History() *snapshot.Snapshot {
	return m.history
}

// Load reads the historical snapshot from statePath.
func (m *Monitor) Load(statePath string) bool {
	snap, ok := m.store.Load(statePath)
	if !ok {
		return false
	}
	m.history = snap
	m.logger.Debug("history loaded",
		zap.String("path", statePath),
		zap.Int("files", snap.Len()))
	return true
}

// Forget drops any loaded history.
func (m *Monitor) Forget() {
	m.history = nil
}

// Write persists the current state to statePath: the baseline captured by
// Rebaseline if there is one, a fresh scan of the roots otherwise.
func (m *Monitor) Write(ctx context.Context, statePath string) error {
	snap := m.baseline
	if snap == nil {
		var err error
		snap, err = m.store.Scan(ctx, m.roots, m.exclude...)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", m.name, err)
		}
	}
	return m.store.Write(statePath, snap)
}

// ChangedFiles scans the roots and diffs the result against the loaded
// history. Without history every live file is reported as created, so
// callers must check Load first. Each call rescans.
func (m *Monitor) ChangedFiles(ctx context.Context) (shared.ChangeSet, error) {
	live, err := m.store.Scan(ctx, m.roots, m.exclude...)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", m.name, err)
	}

	changes := snapshot.Diff(live, m.history)
	m.logger.Debug("changes computed",
		zap.Int("files", live.Len()),
		zap.Int("created", changes.Count(shared.Created)),
		zap.Int("modified", changes.Count(shared.Modified)),
		zap.Int("deleted", changes.Count(shared.Deleted)))
	return changes, nil
}

// Rebaseline replaces the roots with paths, scans them and makes the result
// the new history. The next Write persists it as is.
func (m *Monitor) Rebaseline(ctx context.Context, paths []string) error {
	m.roots = nil
	m.rootSet = make(map[string]bool)
	for _, p := range paths {
		m.RegisterRoot(p)
	}

	snap, err := m.store.Scan(ctx, m.roots, m.exclude...)
	if err != nil {
		return fmt.Errorf("rebaselining %s: %w", m.name, err)
	}
	m.baseline = snap
	m.history = snap
	m.logger.Debug("rebaselined", zap.Strings("roots", m.roots), zap.Int("files", snap.Len()))
	return nil
}
