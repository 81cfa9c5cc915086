package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tupcore/tupcore/internal/link"
)

var linkExistsCmd = &cobra.Command{
	Use:   "link-exists <from> <to> <style>",
	Short: "Check whether an edge exists, exiting 11 if it does",
	Args:  cobra.ExactArgs(3),
	RunE:  runLinkExists,
}

// linkExistsFound is the exit code for an edge that exists, distinct
// from ordinary success (exit 0) and user errors (exit 1).
const linkExistsFound = 11

func init() {
	rootCmd.AddCommand(linkExistsCmd)
}

func runLinkExists(cmd *cobra.Command, args []string) error {
	db, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	var from, to int64
	if _, err := fmt.Sscanf(args[0], "%d", &from); err != nil {
		return newExitError(1, fmt.Errorf("invalid from id %q", args[0]))
	}
	if _, err := fmt.Sscanf(args[1], "%d", &to); err != nil {
		return newExitError(1, fmt.Errorf("invalid to id %q", args[1]))
	}
	style := link.Style(args[2])
	if !style.Valid() {
		return newExitError(1, fmt.Errorf("invalid link style %q", args[2]))
	}

	engine := link.New(db)
	exists, err := engine.LinkExists(cmd.Context(), from, to, style)
	if err != nil {
		return fmt.Errorf("link-exists: %w", err)
	}
	if exists {
		return newExitError(linkExistsFound, fmt.Errorf("%d -> %d (%s) exists", from, to, style))
	}
	return nil
}
