// Package cmd implements the tupcore CLI: init, scan, graph, flags, lock,
// and link-exists subcommands over a single store, built on a cobra root
// command with persistent flags.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tupcore/tupcore/internal/config"
	"github.com/tupcore/tupcore/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "tupcore",
	Short: "Dependency graph and database core of a file-based build system",
	Long:  `tupcore tracks files, commands, and their dependencies in a transactional node graph, and exposes it for incremental builds.`,
}

// Execute runs the CLI and returns its exit code:
// 0 success, 1 user error, 11 link-exists found the edge.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, "tupcore:", err)
		return 1
	}
	return 0
}

// exitCoder lets a subcommand's error carry a specific process exit code,
// such as link-exists' 11 for "the edge exists".
type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }
func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, err error) error {
	return &exitError{code: code, err: err}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "ambient config file (default: ~/.config/tupcore/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
}

// openStore loads the ambient config and opens the store it names. The
// config comes from config.Load's default location; the --config flag
// is not consulted here.
func openStore(cmd *cobra.Command) (*store.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var opts []store.Option
	if cfg.Build.NoSync {
		opts = append(opts, store.WithNoSync())
	}
	db, err := store.Open(cfg.Build.StorePath, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", cfg.Build.StorePath, err)
	}
	return db, cfg, nil
}
