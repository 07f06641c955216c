// Package task wraps the decision engine in a named file task with input
// files, registered outputs and a lifecycle.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"incr/internal/engine"
	ierrors "incr/internal/errors"
	"incr/internal/logging"
	"incr/internal/snapshot"
	"incr/shared/types"

	"go.uber.org/zap"
)

type State int

const (
	Created State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the settings of an incremental task
type Config struct {
	Name           string
	IncrementalDir string   // Where the task keeps its state, required
	InputFiles     []string // Initial input files
	Store          *snapshot.Store
	Logger         *zap.Logger
	Observers      []engine.Observer
}

// Incremental is a file task that runs in full, incrementally or not at all
// depending on how its files changed since its last successful run.
type Incremental[T any] struct {
	name        string
	engine      *engine.Engine
	action      engine.Action[T]
	inputs      *FileSet
	outputPaths *FileSet
	outputFiles *FileSet
	state       State
	logger      *zap.Logger
}

// NewIncremental validates cfg and creates the incremental directory.
func NewIncremental[T any](cfg Config, action engine.Action[T]) (*Incremental[T], error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, ierrors.ConfigError("tasks need a name")
	}
	if action == nil {
		return nil, ierrors.ConfigError("tasks need an action")
	}
	cfg.Logger = logging.OrNop(cfg.Logger)

	e, err := engine.New(engine.Options{
		StateDir:  cfg.IncrementalDir,
		Task:      cfg.Name,
		Store:     cfg.Store,
		Logger:    cfg.Logger,
		Observers: cfg.Observers,
	})
	if err != nil {
		return nil, err
	}

	t := &Incremental[T]{
		name:        cfg.Name,
		engine:      e,
		action:      action,
		inputs:      NewFileSet(cfg.InputFiles...),
		outputPaths: NewFileSet(),
		outputFiles: NewFileSet(),
		logger:      cfg.Logger.Named(cfg.Name),
	}
	t.setState(Created)
	return t, nil
}

func (t *Incremental[T]) Name() string {
	return t.name
}

func (t *Incremental[T]) IncrementalDir() string {
	return t.engine.StateDir()
}

func (t *Incremental[T]) State() State {
	return t.state
}

func (t *Incremental[T]) setState(s State) {
	t.logger.Debug("task state changed", zap.Stringer("state", s), zap.Stringer("previous", t.state))
	t.state = s
}

// AddInputFile adds a file that must exist.
func (t *Incremental[T]) AddInputFile(path string) error {
	return t.inputs.AddFile(path)
}

// AddInputDirectory adds every regular file currently below dir.
func (t *Incremental[T]) AddInputDirectory(dir string) error {
	return t.inputs.AddDirectory(dir)
}

// RegisterOutputPath declares a file or directory the task generates.
func (t *Incremental[T]) RegisterOutputPath(path string) {
	t.outputPaths.add(path)
}

func (t *Incremental[T]) InputPaths() []string {
	return t.inputs.Paths()
}

func (t *Incremental[T]) OutputPaths() []string {
	return t.outputPaths.Paths()
}

// OutputFiles lists the files found under the registered output paths
// after the last successful run.
func (t *Incremental[T]) OutputFiles() []string {
	return t.outputFiles.Paths()
}

// Run executes the task once. The output files are collected before the
// state is committed, so a failure to list them discards the state too.
func (t *Incremental[T]) Run(ctx context.Context) (T, engine.Decision, error) {
	if t.state == Running {
		var zero T
		return zero, engine.Decision{}, fmt.Errorf("task %s is already running", t.name)
	}

	t.setState(Running)
	started := time.Now()

	action := &collecting[T]{task: t, files: NewFileSet()}
	result, d, err := engine.Run[T](ctx, t.engine, t, action)
	t.setState(Finished)
	if err != nil {
		return result, d, err
	}

	t.outputFiles = action.files
	t.logger.Info("task finished",
		zap.Stringer("mode", d.Mode),
		zap.Duration("elapsed", time.Since(started)))
	return result, d, nil
}

// collecting runs the task action and then lists the files below the
// registered output paths.
type collecting[T any] struct {
	task  *Incremental[T]
	files *FileSet
}

func (c *collecting[T]) Full(ctx context.Context) (T, error) {
	return c.collect(c.task.action.Full(ctx))
}

func (c *collecting[T]) Incremental(ctx context.Context, changes shared.ChangeSet) (T, error) {
	return c.collect(c.task.action.Incremental(ctx, changes))
}

func (c *collecting[T]) Skip(ctx context.Context) (T, error) {
	return c.collect(c.task.action.Skip(ctx))
}

func (c *collecting[T]) collect(result T, err error) (T, error) {
	if err != nil {
		return result, err
	}
	for _, p := range c.task.outputPaths.Paths() {
		if err := c.files.AddPath(p); err != nil {
			var zero T
			return zero, fmt.Errorf("collecting output files: %w", err)
		}
	}
	return result, nil
}
