package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"incr/internal/engine"
	"incr/internal/watch"
	"incr/shared/types"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// taskFlags are shared by the commands that evaluate a task.
type taskFlags struct {
	stateDir string
	task     string
	inputs   []string
	outputs  []string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.stateDir, "state-dir", "s", "", "Directory holding the incremental state (default from config)")
	cmd.Flags().StringVarP(&f.task, "task", "t", "", "Task name used in logs and history")
	cmd.Flags().StringSliceVarP(&f.inputs, "input", "i", nil, "Input file or directory, repeatable")
	cmd.Flags().StringSliceVarP(&f.outputs, "output", "o", nil, "Output file or directory, repeatable")
}

func (f *taskFlags) resolve(a *app, argv []string) {
	if f.stateDir == "" {
		f.stateDir = a.cfg.StateDir
	}
	if f.task == "" && len(argv) > 0 {
		f.task = filepath.Base(argv[0])
	}
}

func (f *taskFlags) paths() engine.Paths {
	return engine.Paths{Inputs: f.inputs, Outputs: f.outputs}
}

func newRunCmd() *cobra.Command {
	var flags taskFlags

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command if its files changed",
		Long: `Runs the command in full when there is no usable state or an output changed,
incrementally when only inputs changed, and not at all when nothing changed.
The command sees the mode in INCR_MODE and, for incremental runs, the changed
inputs in the file named by INCR_CHANGES_FILE.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			flags.resolve(a, args)
			e, err := a.engine(flags.task, flags.stateDir)
			if err != nil {
				return err
			}

			action := &commandAction{
				argv:   args,
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				logger: a.logger.ForTask(flags.task),
			}
			_, d, err := engine.Run[struct{}](cmd.Context(), e, flags.paths(), action)
			if err != nil {
				return err
			}
			printDecision(cmd.ErrOrStderr(), d)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var flags taskFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the next run would do",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			flags.resolve(a, nil)
			e, err := a.engine(flags.task, flags.stateDir)
			if err != nil {
				return err
			}

			d, err := e.Preview(cmd.Context(), flags.paths())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printDecision(out, d)
			if d.ChangedOutputs.Len() > 0 {
				fmt.Fprintln(out, "\nChanged outputs:")
				printChanges(out, d.ChangedOutputs)
			}
			if d.ChangedInputs.Len() > 0 {
				fmt.Fprintln(out, "\nChanged inputs:")
				printChanges(out, d.ChangedInputs)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newResetCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the incremental state so the next run is a full one",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if stateDir == "" {
				stateDir = a.cfg.StateDir
			}
			e, err := a.engine("", stateDir)
			if err != nil {
				return err
			}
			if err := e.Reset(); err != nil {
				return fmt.Errorf("resetting state: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Incremental state cleared in", stateDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&stateDir, "state-dir", "s", "", "Directory holding the incremental state (default from config)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.journal == nil {
				return fmt.Errorf("no journal configured, set journal.path")
			}
			runs, err := a.journal.List(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}

			tbl := table.NewWriter()
			tbl.SetOutputMirror(cmd.OutOrStdout())
			tbl.SetStyle(table.StyleLight)
			tbl.AppendHeader(table.Row{"Started", "Task", "Mode", "Reason", "Inputs", "Outputs", "Took", "Result"})
			for _, r := range runs {
				result := color.GreenString("ok")
				if !r.Succeeded() {
					result = color.RedString(r.Error)
				}
				tbl.AppendRow(table.Row{
					humanize.Time(r.StartedAt),
					r.Task,
					r.Mode,
					r.Reason,
					humanize.Comma(int64(r.ChangedInputs)),
					humanize.Comma(int64(r.ChangedOutputs)),
					r.Duration.Round(time.Millisecond),
					result,
				})
			}
			tbl.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show, 0 for all")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		flags    taskFlags
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [flags] -- command [args...]",
		Short: "Rerun a command whenever its inputs change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			flags.resolve(a, args)
			if len(flags.inputs) == 0 {
				return fmt.Errorf("watch needs at least one --input")
			}
			if debounce <= 0 {
				debounce = a.cfg.Watch.Debounce
			}

			e, err := a.engine(flags.task, flags.stateDir)
			if err != nil {
				return err
			}
			logger := a.logger.ForTask(flags.task)

			ignore := append([]string{flags.stateDir}, flags.outputs...)
			ignore = append(ignore, a.ownFiles()...)
			w, err := watch.New(watch.Options{
				Roots:    flags.inputs,
				Ignore:   ignore,
				Debounce: debounce,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			action := &commandAction{
				argv:   args,
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				logger: logger,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("watching for changes", zap.Strings("inputs", flags.inputs))
			return w.Run(ctx, func(ctx context.Context) error {
				_, d, err := engine.Run[struct{}](ctx, e, flags.paths(), action)
				a.flushMetrics()
				if err != nil {
					return err
				}
				printDecision(cmd.ErrOrStderr(), d)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before a burst of changes triggers a run (default from config)")
	return cmd
}

func printDecision(w io.Writer, d engine.Decision) {
	var mode string
	switch d.Mode {
	case engine.Full:
		mode = color.New(color.FgYellow, color.Bold).Sprint("full")
	case engine.Incremental:
		mode = color.New(color.FgCyan, color.Bold).Sprint("incremental")
	case engine.Undecided:
		mode = color.New(color.FgRed, color.Bold).Sprint("undecided")
	default:
		mode = color.New(color.FgGreen, color.Bold).Sprint("skip")
	}
	fmt.Fprintf(w, "%s (%s)\n", mode, d.Reason)
}

func printChanges(w io.Writer, changes shared.ChangeSet) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, c := range changes.Changes() {
		switch c.Kind {
		case shared.Created:
			fmt.Fprintf(w, "\t%s %s\n", green("+"), c.Path)
		case shared.Modified:
			fmt.Fprintf(w, "\t%s %s\n", yellow("M"), c.Path)
		case shared.Deleted:
			fmt.Fprintf(w, "\t%s %s\n", red("D"), c.Path)
		}
	}
}
