package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tupcore/tupcore/internal/config"
	"github.com/tupcore/tupcore/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the store for the current project",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var opts []store.Option
	if cfg.Build.NoSync {
		opts = append(opts, store.WithNoSync())
	}
	db, err := store.Open(cfg.Build.StorePath, opts...)
	if err != nil {
		return fmt.Errorf("init store at %s: %w", cfg.Build.StorePath, err)
	}
	defer db.Close()

	fmt.Printf("initialized store at %s\n", cfg.Build.StorePath)
	return nil
}
