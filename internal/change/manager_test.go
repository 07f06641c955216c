package change

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

type fixture struct {
	dir     string
	inputs  string
	outputs string
	states  string
	store   *snapshot.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		inputs:  filepath.Join(dir, "inputs"),
		outputs: filepath.Join(dir, "outputs"),
		states:  filepath.Join(dir, "states"),
	}
	writeFile(t, filepath.Join(f.inputs, "input1.txt"), "input")
	writeFile(t, filepath.Join(f.outputs, "output1.txt"), "output")

	store, err := snapshot.NewStore(snapshot.Options{Compress: true})
	require.NoError(t, err)
	f.store = store
	return f
}

func (f *fixture) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(f.store, nil)
	require.NoError(t, err)
	m.RegisterInputRoot(f.inputs)
	m.RegisterOutputRoot(f.outputs)
	return m
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(nil, nil)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Run("non-existing directory", func(t *testing.T) {
		f := setup(t)
		m := f.manager(t)
		assert.False(t, m.Load(filepath.Join(f.dir, "does", "not", "exist")))
	})

	t.Run("both states present", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.manager(t).Write(context.Background(), f.states))

		m := f.manager(t)
		assert.True(t, m.Load(f.states))
		assert.NotNil(t, m.Inputs().History())
		assert.NotNil(t, m.Outputs().History())
	})

	t.Run("only outputs state present", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.manager(t).Write(context.Background(), f.states))
		inputsPath, _ := StatePaths(f.states)
		require.NoError(t, os.Remove(inputsPath))

		m := f.manager(t)
		assert.False(t, m.Load(f.states))
		assert.Nil(t, m.Inputs().History())
		assert.Nil(t, m.Outputs().History())
	})

	t.Run("corrupt outputs state", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.manager(t).Write(context.Background(), f.states))
		_, outputsPath := StatePaths(f.states)
		writeFile(t, outputsPath, "{")

		m := f.manager(t)
		assert.False(t, m.Load(f.states))
		assert.Nil(t, m.Inputs().History(), "inputs history must not survive a failed load")
	})
}

func TestWrite(t *testing.T) {
	f := setup(t)
	m := f.manager(t)

	require.NoError(t, m.Write(context.Background(), f.states))

	entries, err := os.ReadDir(f.states)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{InputsStateFile, OutputsStateFile}, names)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	m := f.manager(t)
	require.NoError(t, m.Write(context.Background(), f.states))
	writeFile(t, filepath.Join(f.states, "nested", "extra.txt"), "x")

	require.NoError(t, m.Delete(f.states))

	entries, err := os.ReadDir(f.states)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting a directory that does not exist leaves an empty one behind.
	missing := filepath.Join(f.dir, "fresh")
	require.NoError(t, m.Delete(missing))
	entries, err = os.ReadDir(missing)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegisterRoots(t *testing.T) {
	f := setup(t)
	m, err := NewManager(f.store, nil)
	require.NoError(t, err)

	m.RegisterInputRoot(f.inputs)
	m.RegisterOutputRoot(f.outputs)

	assert.Equal(t, []string{f.inputs}, m.Inputs().Roots())
	assert.Equal(t, []string{f.outputs}, m.Outputs().Roots())
}

func TestHasChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("no changes", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.manager(t).Write(ctx, f.states))

		m := f.manager(t)
		require.True(t, m.Load(f.states))
		changed, err := m.HasChanges(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("only inputs changed", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.manager(t).Write(ctx, f.states))
		writeFile(t, filepath.Join(f.inputs, "input2.txt"), "more")

		m := f.manager(t)
		require.True(t, m.Load(f.states))
		changed, err := m.HasChanges(ctx)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("only outputs changed", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.manager(t).Write(ctx, f.states))
		require.NoError(t, os.Remove(filepath.Join(f.outputs, "output1.txt")))

		m := f.manager(t)
		require.True(t, m.Load(f.states))
		changed, err := m.HasChanges(ctx)
		require.NoError(t, err)
		assert.True(t, changed)

		out, err := m.ChangedOutputs(ctx)
		require.NoError(t, err)
		assert.Equal(t, shared.ChangeSet{filepath.Join(f.outputs, "output1.txt"): shared.Deleted}, out)
	})
}

func TestRebaselineOutputs(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	extra := filepath.Join(f.dir, "extra")
	writeFile(t, filepath.Join(extra, "report.txt"), "r")

	m := f.manager(t)
	require.NoError(t, m.RebaselineOutputs(ctx, []string{f.outputs, extra}))
	require.NoError(t, m.Write(ctx, f.states))

	reloaded := f.manager(t)
	require.True(t, reloaded.Load(f.states))
	assert.Equal(t, []string{
		filepath.Join(extra, "report.txt"),
		filepath.Join(f.outputs, "output1.txt"),
	}, reloaded.Outputs().History().Paths())
}

// The two state files are written independently. If a crash leaves one of
// them newer than the other, Load still succeeds and the diff reflects
// whatever each file recorded.
func TestStateFilesAreNotWrittenAtomically(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.manager(t).Write(ctx, f.states))

	// Simulate a crash after only the inputs file of a later run was written.
	writeFile(t, filepath.Join(f.inputs, "input1.txt"), "changed")
	writeFile(t, filepath.Join(f.outputs, "output1.txt"), "regenerated")
	partial := f.manager(t)
	inputsPath, _ := StatePaths(f.states)
	require.NoError(t, partial.Inputs().Write(ctx, inputsPath))

	m := f.manager(t)
	require.True(t, m.Load(f.states))

	in, err := m.ChangedInputs(ctx)
	require.NoError(t, err)
	assert.True(t, in.Empty())

	out, err := m.ChangedOutputs(ctx)
	require.NoError(t, err)
	assert.Equal(t, shared.ChangeSet{filepath.Join(f.outputs, "output1.txt"): shared.Modified}, out)
}
