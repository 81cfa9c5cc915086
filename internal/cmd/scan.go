package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tupcore/tupcore/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan the project tree and reconcile it against the store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	db, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	effects, err := scanner.ScanOnce(context.Background(), db, root)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Printf("%s created, %s modified, %s deleted\n",
		humanize.Comma(int64(len(effects.Created))),
		humanize.Comma(int64(len(effects.Modified))),
		humanize.Comma(int64(len(effects.Deleted))))
	return nil
}
