package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"incr/internal/engine"
	ierrors "incr/internal/errors"
	"incr/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFileSet(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "src", "a.txt")
	b := filepath.Join(dir, "src", "sub", "b.txt")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	require.NoError(t, os.Symlink(a, filepath.Join(dir, "src", "link.txt")))

	s := NewFileSet()
	require.NoError(t, s.AddFile(a))
	require.NoError(t, s.AddDirectory(filepath.Join(dir, "src")))
	require.NoError(t, s.AddDirectory(filepath.Join(dir, "missing")))

	assert.Equal(t, []string{a, b}, s.Paths())
	assert.True(t, s.Has(b))
	assert.Equal(t, 2, s.Len())

	err := s.AddFile(filepath.Join(dir, "nope.txt"))
	assert.True(t, ierrors.Is(err, ierrors.ErrorTypeNotFound))
}

func TestNewIncremental(t *testing.T) {
	action := engine.ActionFuncs[string]{}

	_, err := NewIncremental[string](Config{Name: "t"}, action)
	assert.True(t, ierrors.Is(err, ierrors.ErrorTypeConfig), "incremental dir is required")

	_, err = NewIncremental[string](Config{IncrementalDir: t.TempDir()}, action)
	assert.True(t, ierrors.Is(err, ierrors.ErrorTypeConfig), "name is required")

	_, err = NewIncremental[string](Config{Name: "t", IncrementalDir: t.TempDir()}, nil)
	assert.True(t, ierrors.Is(err, ierrors.ErrorTypeConfig), "action is required")

	dir := filepath.Join(t.TempDir(), "incremental")
	task, err := NewIncremental[string](Config{Name: "t", IncrementalDir: dir}, action)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, Created, task.State())
	assert.Equal(t, "t", task.Name())
	assert.Equal(t, dir, task.IncrementalDir())
}

func TestIncrementalRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dist := filepath.Join(dir, "dist")
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "b.txt"), "b")

	var incremental shared.ChangeSet
	action := engine.ActionFuncs[int]{
		FullFunc: func(context.Context) (int, error) {
			writeFile(t, filepath.Join(dist, "a.out"), "A")
			writeFile(t, filepath.Join(dist, "b.out"), "B")
			return 2, nil
		},
		IncrementalFunc: func(_ context.Context, changes shared.ChangeSet) (int, error) {
			incremental = changes
			return changes.Len(), nil
		},
	}

	task, err := NewIncremental[int](Config{Name: "copy", IncrementalDir: filepath.Join(dir, "state")}, action)
	require.NoError(t, err)
	require.NoError(t, task.AddInputDirectory(src))
	task.RegisterOutputPath(dist)

	n, d, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, engine.Full, d.Mode)
	assert.Equal(t, Finished, task.State())
	assert.Equal(t, []string{filepath.Join(dist, "a.out"), filepath.Join(dist, "b.out")}, task.OutputFiles())

	_, d, err = task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.Skip, d.Mode)

	writeFile(t, filepath.Join(src, "a.txt"), "A")
	n, d, err = task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.Incremental, d.Mode)
	assert.Equal(t, 1, n)
	assert.Equal(t, shared.ChangeSet{filepath.Join(src, "a.txt"): shared.Modified}, incremental)
}

func TestIncrementalRunFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "in.txt"), "in")
	boom := errors.New("boom")

	task, err := NewIncremental[int](Config{
		Name:           "fails",
		IncrementalDir: filepath.Join(dir, "state"),
		InputFiles:     []string{filepath.Join(dir, "in.txt")},
	}, engine.ActionFuncs[int]{
		FullFunc: func(context.Context) (int, error) { return 0, boom },
	})
	require.NoError(t, err)
	task.RegisterOutputPath(filepath.Join(dir, "out"))

	_, _, err = task.Run(context.Background())
	assert.True(t, err == boom)
	assert.Equal(t, Finished, task.State())
	assert.Empty(t, task.OutputFiles())
}

func TestIncrementalRunOutputListingFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "in.txt"), "in")
	locked := filepath.Join(dir, "out", "locked")
	state := filepath.Join(dir, "state")

	task, err := NewIncremental[int](Config{
		Name:           "unreadable",
		IncrementalDir: state,
		InputFiles:     []string{filepath.Join(dir, "in.txt")},
	}, engine.ActionFuncs[int]{
		FullFunc: func(context.Context) (int, error) {
			writeFile(t, filepath.Join(locked, "o.txt"), "o")
			require.NoError(t, os.Chmod(locked, 0))
			return 1, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })
	task.RegisterOutputPath(filepath.Join(dir, "out"))

	_, d, err := task.Run(context.Background())
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.ErrorTypeIO), "got %v", err)
	assert.Equal(t, engine.Full, d.Mode)
	assert.Equal(t, Finished, task.State())
	assert.Empty(t, task.OutputFiles())

	entries, err := os.ReadDir(state)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
