package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"incr/internal/snapshot"
	"incr/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitor(t *testing.T) *Monitor {
	t.Helper()
	store, err := snapshot.NewStore(snapshot.Options{Compress: true})
	require.NoError(t, err)
	return New("inputs", store, nil)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRegisterRoot(t *testing.T) {
	m := newMonitor(t)
	dir := t.TempDir()

	m.RegisterRoot(filepath.Join(dir, "does-not-exist-yet"))
	m.RegisterRoot(filepath.Join(dir, "does-not-exist-yet"))
	m.RegisterRoot(filepath.Join(dir, "a", "..", "does-not-exist-yet"))
	m.RegisterRoot(filepath.Join(dir, "b"))

	assert.Equal(t, []string{
		filepath.Join(dir, "does-not-exist-yet"),
		filepath.Join(dir, "b"),
	}, m.Roots())
}

func TestChangedFilesWithoutHistory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")

	m := newMonitor(t)
	m.RegisterRoot(dir)
	assert.Nil(t, m.History())

	changes, err := m.ChangedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shared.ChangeSet{
		filepath.Join(dir, "a.txt"):        shared.Created,
		filepath.Join(dir, "sub", "b.txt"): shared.Created,
	}, changes)
}

func TestWriteLoadChangedFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	state := filepath.Join(dir, "state", "inputs.state")
	writeFile(t, filepath.Join(src, "keep.txt"), "keep")
	writeFile(t, filepath.Join(src, "edit.txt"), "1")
	writeFile(t, filepath.Join(src, "drop.txt"), "drop")

	first := newMonitor(t)
	first.RegisterRoot(src)
	require.NoError(t, first.Write(context.Background(), state))

	writeFile(t, filepath.Join(src, "edit.txt"), "2")
	writeFile(t, filepath.Join(src, "add.txt"), "add")
	require.NoError(t, os.Remove(filepath.Join(src, "drop.txt")))

	second := newMonitor(t)
	second.RegisterRoot(src)
	require.True(t, second.Load(state))
	require.NotNil(t, second.History())

	changes, err := second.ChangedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shared.ChangeSet{
		filepath.Join(src, "edit.txt"): shared.Modified,
		filepath.Join(src, "add.txt"):  shared.Created,
		filepath.Join(src, "drop.txt"): shared.Deleted,
	}, changes)

	second.Forget()
	assert.Nil(t, second.History())
}

func TestExclude(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	state := filepath.Join(src, ".incr", "inputs.state")
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "run.log"), "1")

	monitor := func() *Monitor {
		m := newMonitor(t)
		m.RegisterRoot(src)
		m.Exclude(filepath.Dir(state))
		m.Exclude(filepath.Join(src, "run.log"))
		return m
	}
	require.NoError(t, monitor().Write(context.Background(), state))

	m := monitor()
	require.True(t, m.Load(state))
	assert.Equal(t, []string{filepath.Join(src, "a.txt")}, m.History().Paths())

	writeFile(t, filepath.Join(src, "run.log"), "2")
	changes, err := m.ChangedFiles(context.Background())
	require.NoError(t, err)
	assert.True(t, changes.Empty())
}

func TestLoadMissing(t *testing.T) {
	m := newMonitor(t)
	assert.False(t, m.Load(filepath.Join(t.TempDir(), "nope.state")))
	assert.Nil(t, m.History())
}

func TestEmptyHistoryDiffersFromNoHistory(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "inputs.state")

	empty := newMonitor(t)
	require.NoError(t, empty.Write(context.Background(), state))

	m := newMonitor(t)
	require.True(t, m.Load(state))
	require.NotNil(t, m.History())
	assert.Equal(t, 0, m.History().Len())
}

func TestRebaseline(t *testing.T) {
	dir := t.TempDir()
	oldOut := filepath.Join(dir, "old")
	newOut := filepath.Join(dir, "new")
	state := filepath.Join(dir, "outputs.state")
	writeFile(t, filepath.Join(oldOut, "x.bin"), "x")
	writeFile(t, filepath.Join(newOut, "y.bin"), "y")

	m := newMonitor(t)
	m.RegisterRoot(oldOut)
	require.NoError(t, m.Rebaseline(context.Background(), []string{newOut}))
	assert.Equal(t, []string{newOut}, m.Roots())

	changes, err := m.ChangedFiles(context.Background())
	require.NoError(t, err)
	assert.True(t, changes.Empty())

	// The baseline is what gets written, even if files move afterwards.
	writeFile(t, filepath.Join(newOut, "z.bin"), "z")
	require.NoError(t, m.Write(context.Background(), state))

	reloaded := newMonitor(t)
	require.True(t, reloaded.Load(state))
	assert.Equal(t, []string{filepath.Join(newOut, "y.bin")}, reloaded.History().Paths())
}
