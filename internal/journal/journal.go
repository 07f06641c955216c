// Package journal records every task invocation in a badger database.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"incr/internal/engine"
	ierrors "incr/internal/errors"
	"incr/internal/logging"
	"incr/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const prefix = "run"

// Run is one journal entry.
type Run struct {
	ID             string        `json:"id"`
	Task           string        `json:"task,omitempty"`
	StateDir       string        `json:"state_dir"`
	Mode           engine.Mode   `json:"mode"`
	Reason         string        `json:"reason"`
	ChangedInputs  int           `json:"changed_inputs"`
	ChangedOutputs int           `json:"changed_outputs"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// GetID orders entries by start time; the uuid keeps keys unique.
func (r *Run) GetID() string {
	return fmt.Sprintf("%020d-%s", r.StartedAt.UnixNano(), r.ID)
}

func (r *Run) Succeeded() bool {
	return r.Error == ""
}

// Journal stores runs and implements engine.Observer.
type Journal struct {
	db     *badger.DB
	store  *storage.BadgerStore
	owned  bool
	logger *zap.Logger
}

// Open opens the journal database at dir, or an in-memory one when dir is
// empty.
func Open(dir string, logger *zap.Logger) (*Journal, error) {
	db, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}
	j := New(db, logger)
	j.owned = true
	return j, nil
}

// New creates a journal on an already open database. Close leaves db open.
func New(db *badger.DB, logger *zap.Logger) *Journal {
	logger = logging.OrNop(logger)
	return &Journal{
		db:     db,
		store:  storage.NewBadgerStore(db, prefix),
		logger: logger,
	}
}

func (j *Journal) Close() error {
	if !j.owned {
		return nil
	}
	return j.db.Close()
}

// Record appends run, assigning an ID if it has none.
func (j *Journal) Record(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if err := j.store.Put(run); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// RunFinished records the outcome. Failures are logged and never reach the
// caller of the engine.
func (j *Journal) RunFinished(_ context.Context, o engine.Outcome) {
	run := &Run{
		Task:           o.Task,
		StateDir:       o.StateDir,
		Mode:           o.Decision.Mode,
		Reason:         o.Decision.Reason,
		ChangedInputs:  o.Decision.ChangedInputs.Len(),
		ChangedOutputs: o.Decision.ChangedOutputs.Len(),
		StartedAt:      o.StartedAt,
		Duration:       o.Duration,
	}
	if o.Err != nil {
		run.Error = o.Err.Error()
	}

	if err := j.Record(run); err != nil {
		j.logger.Warn("failed to journal run", zap.String("task", o.Task), zap.Error(err))
	}
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns all of them.
func (j *Journal) List(limit int) ([]Run, error) {
	return j.collect(limit, func(*Run) bool { return true })
}

// Last returns the most recent run of task.
func (j *Journal) Last(task string) (*Run, error) {
	runs, err := j.collect(1, func(r *Run) bool { return r.Task == task })
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ierrors.NotFound(fmt.Sprintf("no runs recorded for task %q", task))
	}
	return &runs[0], nil
}

func (j *Journal) collect(limit int, keep func(*Run) bool) ([]Run, error) {
	var runs []Run
	err := j.store.Each(true, func(_ string, data []byte) (bool, error) {
		var r Run
		if err := json.Unmarshal(data, &r); err != nil {
			return false, fmt.Errorf("decoding run: %w", err)
		}
		if keep(&r) {
			runs = append(runs, r)
		}
		return limit <= 0 || len(runs) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
