package engine

import (
	"context"
	"fmt"
	"time"

	"incr/shared/types"
)

// Mode is the way a task invocation is executed.
type Mode int

const (
	Full Mode = iota
	Incremental
	Skip
	// Undecided marks an invocation that failed or was cancelled before any
	// action ran.
	Undecided
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "full"
	case Incremental:
		return "incremental"
	case Skip:
		return "skip"
	case Undecided:
		return "undecided"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "full":
		*m = Full
	case "incremental":
		*m = Incremental
	case "skip":
		*m = Skip
	case "undecided":
		*m = Undecided
	default:
		return fmt.Errorf("unknown run mode %q", text)
	}
	return nil
}

// Action is the work a task performs in each mode. Exactly one method is
// called per invocation.
type Action[T any] interface {
	Full(ctx context.Context) (T, error)
	Incremental(ctx context.Context, changes shared.ChangeSet) (T, error)
	Skip(ctx context.Context) (T, error)
}

// ActionFuncs adapts plain functions to Action. A nil SkipFunc returns the
// zero value; a nil FullFunc or IncrementalFunc fails.
type ActionFuncs[T any] struct {
	FullFunc        func(ctx context.Context) (T, error)
	IncrementalFunc func(ctx context.Context, changes shared.ChangeSet) (T, error)
	SkipFunc        func(ctx context.Context) (T, error)
}

func (a ActionFuncs[T]) Full(ctx context.Context) (T, error) {
	if a.FullFunc == nil {
		var zero T
		return zero, fmt.Errorf("no full run action implemented")
	}
	return a.FullFunc(ctx)
}

func (a ActionFuncs[T]) Incremental(ctx context.Context, changes shared.ChangeSet) (T, error) {
	if a.IncrementalFunc == nil {
		var zero T
		return zero, fmt.Errorf("no incremental run action implemented")
	}
	return a.IncrementalFunc(ctx, changes)
}

func (a ActionFuncs[T]) Skip(ctx context.Context) (T, error) {
	if a.SkipFunc == nil {
		var zero T
		return zero, nil
	}
	return a.SkipFunc(ctx)
}

// PathProvider supplies the declared input and output roots of a task.
// OutputPaths is asked again after a successful run, so it may report
// outputs that were only produced by that run.
type PathProvider interface {
	InputPaths() []string
	OutputPaths() []string
}

// Paths is a PathProvider with fixed roots.
type Paths struct {
	Inputs  []string
	Outputs []string
}

func (p Paths) InputPaths() []string  { return p.Inputs }
func (p Paths) OutputPaths() []string { return p.Outputs }

// Decision explains which mode was selected.
type Decision struct {
	Mode   Mode
	Reason string
	// Loaded reports whether usable state was found.
	Loaded bool
	// ChangedInputs is nil when inputs were not examined.
	ChangedInputs shared.ChangeSet
	// ChangedOutputs is nil when outputs were not examined.
	ChangedOutputs shared.ChangeSet
}

const (
	ReasonNoState        = "no incremental state"
	ReasonOutputsChanged = "output files changed"
	ReasonInputsChanged  = "input files changed"
	ReasonNothingChanged = "nothing changed"

	ReasonDetectionFailed = "change detection failed"
	ReasonCancelled       = "cancelled before running"
)

// Outcome describes a finished invocation.
type Outcome struct {
	Task      string
	StateDir  string
	Decision  Decision
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Observer is notified after every invocation.
type Observer interface {
	RunFinished(ctx context.Context, o Outcome)
}
