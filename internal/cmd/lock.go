package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tupcore/tupcore/internal/config"
	"github.com/tupcore/tupcore/internal/lock"
)

var lockCmd = &cobra.Command{
	Use:   "lock <status|break>",
	Short: "Inspect the process-level store lock, or release it when no other process holds it",
	Args:  cobra.ExactArgs(1),
	RunE:  runLock,
}

func init() {
	rootCmd.AddCommand(lockCmd)
}

func runLock(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lockPath := cfg.Build.StorePath + ".lock"

	switch args[0] {
	case "status":
		l, err := lock.Acquire(lockPath, 0, 0)
		if err != nil {
			fmt.Println("locked")
			return nil
		}
		_ = l.Unlock()
		fmt.Println("unlocked")
		return nil
	case "break":
		l, err := lock.Acquire(lockPath, 0, 0)
		if err != nil {
			return newExitError(1, fmt.Errorf("cannot break an externally held lock safely"))
		}
		return l.Unlock()
	default:
		return newExitError(1, fmt.Errorf("unknown lock subcommand %q", args[0]))
	}
}
