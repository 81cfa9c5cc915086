package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tupcore/tupcore/internal/flags"
	"github.com/tupcore/tupcore/internal/store"
)

var (
	flagsAdd  int64
	flagsList bool
)

var flagsCmd = &cobra.Command{
	Use:   "flags <create|modify|config|variant|transient>",
	Short: "Inspect or mutate a flag set",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlags,
}

func init() {
	rootCmd.AddCommand(flagsCmd)
	flagsCmd.Flags().Int64Var(&flagsAdd, "add", 0, "node id to add to the set")
	flagsCmd.Flags().BoolVar(&flagsList, "list", false, "list every member of the set")
}

func runFlags(cmd *cobra.Command, args []string) error {
	db, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	kind := flags.Kind(args[0])
	set, err := flags.New(db, kind)
	if err != nil {
		return newExitError(1, err)
	}

	ctx := context.Background()

	if flagsAdd != 0 {
		if err := db.WithTx(ctx, func(tx *store.Tx) error {
			return set.Add(ctx, tx, flagsAdd)
		}); err != nil {
			return fmt.Errorf("add %d: %w", flagsAdd, err)
		}
	}

	if flagsList {
		for id, err := range set.Iterate(ctx) {
			if err != nil {
				return fmt.Errorf("iterate: %w", err)
			}
			fmt.Println(id)
		}
	}
	return nil
}
