package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"incr/internal/engine"
	"incr/shared/types"

	"go.uber.org/zap"
)

const (
	envMode        = "INCR_MODE"
	envChangesFile = "INCR_CHANGES_FILE"
)

// commandAction runs an external command for full and incremental runs.
// The mode is passed in INCR_MODE; incremental runs also get
// INCR_CHANGES_FILE, naming a file with one "kind<TAB>path" line per
// changed input.
type commandAction struct {
	argv   []string
	dir    string
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger
}

var _ engine.Action[struct{}] = (*commandAction)(nil)

func (c *commandAction) Full(ctx context.Context) (struct{}, error) {
	return struct{}{}, c.exec(ctx, engine.Full, nil)
}

func (c *commandAction) Incremental(ctx context.Context, changes shared.ChangeSet) (struct{}, error) {
	f, err := os.CreateTemp("", "incr-changes-*.tsv")
	if err != nil {
		return struct{}{}, fmt.Errorf("creating changes file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := writeChanges(f, changes); err != nil {
		f.Close()
		return struct{}{}, fmt.Errorf("writing changes file: %w", err)
	}
	if err := f.Close(); err != nil {
		return struct{}{}, fmt.Errorf("writing changes file: %w", err)
	}

	return struct{}{}, c.exec(ctx, engine.Incremental, []string{envChangesFile + "=" + f.Name()})
}

func (c *commandAction) Skip(context.Context) (struct{}, error) {
	c.logger.Info("nothing changed, skipping command")
	return struct{}{}, nil
}

func (c *commandAction) exec(ctx context.Context, mode engine.Mode, env []string) error {
	if len(c.argv) == 0 {
		return fmt.Errorf("no command given")
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	cmd.Env = append(os.Environ(), envMode+"="+mode.String())
	cmd.Env = append(cmd.Env, env...)

	c.logger.Debug("running command", zap.Strings("argv", c.argv), zap.Stringer("mode", mode))
	return cmd.Run()
}

func writeChanges(w io.Writer, changes shared.ChangeSet) error {
	for _, ch := range changes.Changes() {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", ch.Kind, ch.Path); err != nil {
			return err
		}
	}
	return nil
}
