package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/export"
	"github.com/tupcore/tupcore/internal/flags"
	tupgraph "github.com/tupcore/tupcore/internal/graph"
	"github.com/tupcore/tupcore/internal/link"
	"github.com/tupcore/tupcore/internal/store"
)

var (
	graphDot      bool
	graphJSON     bool
	graphStickies bool
)

var graphCmd = &cobra.Command{
	Use:   "graph [seed-id ...]",
	Short: "Build and export the dependency graph",
	RunE:  runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().BoolVar(&graphDot, "dot", true, "emit Graphviz dot format")
	graphCmd.Flags().BoolVar(&graphJSON, "json", false, "emit a JSON compile database instead of dot")
	graphCmd.Flags().BoolVar(&graphStickies, "stickies", false, "include sticky-only leaf edges")
}

func runGraph(cmd *cobra.Command, args []string) error {
	db, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	entries := entry.New(db)
	if err := entries.LoadAll(context.Background()); err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	links := link.New(db)
	builder := tupgraph.New(entries, links)

	seeds, err := parseIDs(args)
	if err != nil {
		return newExitError(1, err)
	}
	if len(seeds) == 0 {
		seeds, err = createModifySeeds(context.Background(), db)
		if err != nil {
			return fmt.Errorf("collect create/modify seeds: %w", err)
		}
	}

	g, err := builder.Build(context.Background(), seeds, tupgraph.BuildOptions{Stickies: graphStickies})
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	if graphJSON {
		return export.CompileCommands(os.Stdout, g, func(cmdID int64) (string, error) {
			return "", nil
		})
	}
	return export.Graphviz(os.Stdout, g)
}

// createModifySeeds collects every node currently in create or modify,
// the default seed set for a graph build when no explicit targets are
// given on the command line.
func createModifySeeds(ctx context.Context, db *store.DB) ([]int64, error) {
	seen := make(map[int64]bool)
	var seeds []int64
	for _, kind := range []flags.Kind{flags.KindCreate, flags.KindModify} {
		set, err := flags.New(db, kind)
		if err != nil {
			return nil, err
		}
		for id, err := range set.Iterate(ctx) {
			if err != nil {
				return nil, err
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			seeds = append(seeds, id)
		}
	}
	return seeds, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		var id int64
		if _, err := fmt.Sscanf(a, "%d", &id); err != nil {
			return nil, fmt.Errorf("invalid node id %q: %w", a, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
