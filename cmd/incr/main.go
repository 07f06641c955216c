// cmd/incr/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"incr/internal/config"
	"incr/internal/engine"
	"incr/internal/journal"
	"incr/internal/logging"
	"incr/internal/metrics"
	"incr/internal/snapshot"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "incr",
	Short: "incr reruns a command only when its files changed",
	Long: `incr fingerprints the input and output files of a command and decides on
every invocation whether to run it in full, run it over the changed inputs only,
or skip it because nothing changed since the last successful run.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default incr.<INCR_ENV>.json if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWatchCmd())
}

// app holds what every command needs, built from config and flags.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *snapshot.Store
	journal *journal.Journal
	metrics *metrics.Recorder
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	store, err := cfg.NewStore(logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		a.journal = j
	}
	return a, nil
}

// engine creates an engine for stateDir that reports to the journal and
// metrics. Files incr writes itself are never fingerprinted.
func (a *app) engine(task, stateDir string) (*engine.Engine, error) {
	observers := []engine.Observer{a.metrics}
	if a.journal != nil {
		observers = append(observers, a.journal)
	}
	return engine.New(engine.Options{
		StateDir:  stateDir,
		Task:      task,
		Store:     a.store,
		Logger:    a.logger.ForTask(task),
		Observers: observers,
		Exclude:   a.ownFiles(),
	})
}

func (a *app) ownFiles() []string {
	var own []string
	if a.cfg.Journal.Path != "" {
		own = append(own, a.cfg.Journal.Path)
	}
	if a.cfg.Metrics.File != "" {
		own = append(own, a.cfg.Metrics.File)
	}
	return own
}

func (a *app) flushMetrics() {
	if a.cfg.Metrics.File == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.File); err != nil {
		a.logger.Warn("failed to write metrics", zap.Error(err))
	}
}

func (a *app) Close() {
	a.flushMetrics()
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("failed to close journal", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}
