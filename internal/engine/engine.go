// Package engine decides whether a task runs in full, incrementally or not
// at all, runs it, and commits or rolls back the persisted file state.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"incr/internal/change"
	ierrors "incr/internal/errors"
	"incr/internal/logging"
	"incr/internal/snapshot"

	"go.uber.org/zap"
)

// Options configures an Engine
type Options struct {
	StateDir  string          // Directory holding the persisted state, required
	Task      string          // Name used in logs and outcomes
	Store     *snapshot.Store // Defaults to a compressing store with xxh3
	Logger    *zap.Logger
	Observers []Observer
	// Exclude lists files and directories never fingerprinted, such as a
	// journal kept next to the inputs. The state directory is always excluded.
	Exclude []string
}

// Engine runs invocations against one state directory. Invocations on the
// same Engine, or on any two engines sharing a state directory, must not
// overlap.
type Engine struct {
	stateDir  string
	task      string
	store     *snapshot.Store
	logger    *zap.Logger
	observers []Observer
	exclude   []string
	now       func() time.Time
}

// New validates opts and makes sure the state directory exists.
func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.StateDir) == "" {
		return nil, ierrors.ConfigError("incremental tasks need a state directory")
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Store == nil {
		store, err := snapshot.NewStore(snapshot.Options{Compress: true, Logger: opts.Logger})
		if err != nil {
			return nil, fmt.Errorf("creating snapshot store: %w", err)
		}
		opts.Store = store
	}

	if err := os.MkdirAll(opts.StateDir, 0755); err != nil {
		return nil, ierrors.IOError("creating state directory", opts.StateDir, err)
	}

	logger := opts.Logger
	if opts.Task != "" {
		logger = logger.With(zap.String("task", opts.Task))
	}

	return &Engine{
		stateDir:  opts.StateDir,
		task:      opts.Task,
		store:     opts.Store,
		logger:    logger,
		observers: opts.Observers,
		exclude:   append([]string{opts.StateDir}, opts.Exclude...),
		now:       time.Now,
	}, nil
}

func (e *Engine) StateDir() string {
	return e.stateDir
}

// Reset erases the persisted state so the next invocation runs in full.
func (e *Engine) Reset() error {
	return change.EmptyDir(e.stateDir)
}

// Preview computes the decision for the current filesystem state without
// running anything or touching the persisted state.
func (e *Engine) Preview(ctx context.Context, paths PathProvider) (Decision, error) {
	if paths == nil {
		return Decision{}, ierrors.ConfigError("path provider cannot be nil")
	}
	_, d, err := e.decide(ctx, paths)
	return d, err
}

// decide loads state into a fresh manager, registers the declared roots and
// selects the mode. The checks run in order: no state, changed outputs,
// changed inputs. Outputs are checked before inputs because an incremental
// run builds on the previous outputs.
func (e *Engine) decide(ctx context.Context, paths PathProvider) (*change.Manager, Decision, error) {
	m, err := change.NewManager(e.store, e.logger)
	if err != nil {
		return nil, Decision{}, err
	}

	for _, p := range e.exclude {
		m.Exclude(p)
	}

	loaded := m.Load(e.stateDir)
	for _, p := range paths.InputPaths() {
		m.RegisterInputRoot(p)
	}
	for _, p := range paths.OutputPaths() {
		m.RegisterOutputRoot(p)
	}

	d := Decision{Loaded: loaded}
	if !loaded {
		d.Mode, d.Reason = Full, ReasonNoState
		return m, d, nil
	}

	d.ChangedOutputs, err = m.ChangedOutputs(ctx)
	if err != nil {
		return nil, d, err
	}
	if !d.ChangedOutputs.Empty() {
		d.Mode, d.Reason = Full, ReasonOutputsChanged
		return m, d, nil
	}

	d.ChangedInputs, err = m.ChangedInputs(ctx)
	if err != nil {
		return nil, d, err
	}
	if !d.ChangedInputs.Empty() {
		d.Mode, d.Reason = Incremental, ReasonInputsChanged
		return m, d, nil
	}

	d.Mode, d.Reason = Skip, ReasonNothingChanged
	return m, d, nil
}

// Run performs one invocation: decide, call the matching action method,
// then commit the new state on success or erase it on failure. An action
// error is returned exactly as the action produced it.
func Run[T any](ctx context.Context, e *Engine, paths PathProvider, action Action[T]) (T, Decision, error) {
	var zero T
	if e == nil {
		return zero, Decision{}, ierrors.ConfigError("engine cannot be nil")
	}
	if paths == nil {
		return zero, Decision{}, ierrors.ConfigError("path provider cannot be nil")
	}
	if action == nil {
		return zero, Decision{}, ierrors.ConfigError("action cannot be nil")
	}

	started := e.now()
	result, d, err := run(ctx, e, paths, action)
	e.finish(ctx, Outcome{
		Task:      e.task,
		StateDir:  e.stateDir,
		Decision:  d,
		StartedAt: started,
		Duration:  e.now().Sub(started),
		Err:       err,
	})
	return result, d, err
}

func run[T any](ctx context.Context, e *Engine, paths PathProvider, action Action[T]) (result T, d Decision, err error) {
	m, d, err := e.decide(ctx, paths)
	if err != nil {
		d.Mode, d.Reason = Undecided, ReasonDetectionFailed
		return result, d, fmt.Errorf("detecting changes: %w", err)
	}
	if err := ctx.Err(); err != nil {
		d.Mode, d.Reason = Undecided, ReasonCancelled
		return result, d, err
	}

	e.logger.Info("running task",
		zap.Stringer("mode", d.Mode),
		zap.String("reason", d.Reason),
		zap.Int("changed_inputs", d.ChangedInputs.Len()),
		zap.Int("changed_outputs", d.ChangedOutputs.Len()))

	// Once the action starts the invocation runs to completion, so the
	// commit must not observe a later cancellation.
	commitCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			e.rollback(m)
			panic(r)
		}
	}()

	switch d.Mode {
	case Full:
		result, err = action.Full(ctx)
	case Incremental:
		result, err = action.Incremental(ctx, d.ChangedInputs)
	default:
		result, err = action.Skip(ctx)
	}

	if err != nil {
		e.logger.Warn("task run failed, discarding incremental state",
			zap.Stringer("mode", d.Mode),
			zap.Error(err))
		e.rollback(m)
		var zero T
		return zero, d, err
	}

	if err := e.commit(commitCtx, m, paths); err != nil {
		e.rollback(m)
		var zero T
		return zero, d, err
	}

	return result, d, nil
}

func (e *Engine) commit(ctx context.Context, m *change.Manager, paths PathProvider) error {
	outputs := paths.OutputPaths()
	if err := m.RebaselineOutputs(ctx, outputs); err != nil {
		return fmt.Errorf("recording outputs: %w", err)
	}
	if err := m.Write(ctx, e.stateDir); err != nil {
		return fmt.Errorf("writing incremental state: %w", err)
	}
	e.logger.Debug("incremental state committed",
		zap.String("state_dir", e.stateDir),
		zap.Strings("outputs", outputs))
	return nil
}

func (e *Engine) rollback(m *change.Manager) {
	if err := m.Delete(e.stateDir); err != nil {
		e.logger.Error("failed to delete incremental state",
			zap.String("state_dir", e.stateDir),
			zap.Error(err))
	}
}

func (e *Engine) finish(ctx context.Context, o Outcome) {
	fields := []zap.Field{
		zap.Stringer("mode", o.Decision.Mode),
		zap.Duration("duration", o.Duration),
	}
	if o.Err != nil {
		e.logger.Debug("invocation finished with error", append(fields, zap.Error(o.Err))...)
	} else {
		e.logger.Debug("invocation finished", fields...)
	}

	for _, obs := range e.observers {
		obs.RunFinished(ctx, o)
	}
}
