// Package change manages the input and output file state of a task as a
// single persisted unit.
package change

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ierrors "incr/internal/errors"
	"incr/internal/logging"
	"incr/internal/monitor"
	"incr/internal/snapshot"
	"incr/shared/types"

	"go.uber.org/zap"
)

const (
	InputsStateFile  = "inputs.state"
	OutputsStateFile = "outputs.state"
)

// Manager composes the inputs and outputs monitors of one task invocation.
type Manager struct {
	inputs  *monitor.Monitor
	outputs *monitor.Monitor
	logger  *zap.Logger
}

// NewManager creates a manager whose monitors share store.
func NewManager(store *snapshot.Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("snapshot store cannot be nil")
	}
	logger = logging.OrNop(logger)

	return &Manager{
		inputs:  monitor.New("inputs", store, logger),
		outputs: monitor.New("outputs", store, logger),
		logger:  logger,
	}, nil
}

// StatePaths returns the inputs and outputs state file paths in stateDir.
func StatePaths(stateDir string) (inputs, outputs string) {
	return filepath.Join(stateDir, InputsStateFile), filepath.Join(stateDir, OutputsStateFile)
}

// Load reads both snapshots from stateDir. It reports true only if both
// loaded; otherwise neither monitor keeps a history.
func (m *Manager) Load(stateDir string) bool {
	inputsPath, outputsPath := StatePaths(stateDir)

	if m.inputs.Load(inputsPath) && m.outputs.Load(outputsPath) {
		return true
	}

	m.inputs.Forget()
	m.outputs.Forget()
	m.logger.Debug("no usable state", zap.String("state_dir", stateDir))
	return false
}

// Write persists both snapshots into stateDir, creating it if needed.
// The two files are written one after the other; a crash in between can
// leave them out of step.
func (m *Manager) Write(ctx context.Context, stateDir string) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return ierrors.IOError("creating state directory", stateDir, err)
	}

	inputsPath, outputsPath := StatePaths(stateDir)
	if err := m.inputs.Write(ctx, inputsPath); err != nil {
		return fmt.Errorf("writing inputs state: %w", err)
	}
	if err := m.outputs.Write(ctx, outputsPath); err != nil {
		return fmt.Errorf("writing outputs state: %w", err)
	}

	m.logger.Debug("state written", zap.String("state_dir", stateDir))
	return nil
}

// Delete removes everything inside stateDir but keeps the directory.
func (m *Manager) Delete(stateDir string) error {
	if err := EmptyDir(stateDir); err != nil {
		return err
	}
	m.logger.Debug("state deleted", zap.String("state_dir", stateDir))
	return nil
}

// EmptyDir removes every entry of dir. A missing dir is created empty.
func EmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return ierrors.IOError("creating state directory", dir, err)
			}
			return nil
		}
		return ierrors.IOError("reading state directory", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return ierrors.IOError("removing", path, err)
		}
	}
	return nil
}

// Exclude keeps path out of both monitors' scans.
func (m *Manager) Exclude(path string) {
	m.inputs.Exclude(path)
	m.outputs.Exclude(path)
}

func (m *Manager) RegisterInputRoot(path string) {
	m.inputs.RegisterRoot(path)
}

func (m *Manager) RegisterOutputRoot(path string) {
	m.outputs.RegisterRoot(path)
}

func (m *Manager) ChangedInputs(ctx context.Context) (shared.ChangeSet, error) {
	return m.inputs.ChangedFiles(ctx)
}

func (m *Manager) ChangedOutputs(ctx context.Context) (shared.ChangeSet, error) {
	return m.outputs.ChangedFiles(ctx)
}

// HasChanges reports whether any input or output file changed. Both sides
// are always scanned.
func (m *Manager) HasChanges(ctx context.Context) (bool, error) {
	in, err := m.ChangedInputs(ctx)
	if err != nil {
		return false, err
	}
	out, err := m.ChangedOutputs(ctx)
	if err != nil {
		return false, err
	}
	return !in.Empty() || !out.Empty(), nil
}

// RebaselineOutputs records the files currently under paths as the
// outputs state.
func (m *Manager) RebaselineOutputs(ctx context.Context, paths []string) error {
	return m.outputs.Rebaseline(ctx, paths)
}

// Inputs exposes the inputs monitor.
func (m *Manager) Inputs() *monitor.Monitor {
	return m.inputs
}

// Outputs exposes the outputs monitor.
func (m *Manager) Outputs() *monitor.Monitor {
	return m.outputs
}
