// Package export renders two read-only views of the node graph: a
// compile_commands.json-style compile database, and a Graphviz digraph
// for visualization.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/graph"
	"github.com/tupcore/tupcore/internal/link"
)

// CompileCommand is one record of the compile database: the working
// directory, argv, and primary input file of one command node.
type CompileCommand struct {
	Directory string   `json:"directory"`
	Arguments []string `json:"arguments"`
	File      string   `json:"file"`
}

// CompileCommands emits one CompileCommand per command node in g, in
// ascending node id order, as a JSON array.
func CompileCommands(w io.Writer, g *graph.Graph, primaryInput func(cmdID int64) (file string, err error)) error {
	ids := make([]int64, 0, len(g.Nodes))
	for id, e := range g.Nodes {
		if e.Type == entry.TypeCommand {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	records := make([]CompileCommand, 0, len(ids))
	for _, id := range ids {
		e := g.Nodes[id]
		file, err := primaryInput(id)
		if err != nil {
			return fmt.Errorf("export: primary input for %d: %w", id, err)
		}
		records = append(records, CompileCommand{
			Directory: dirDisplay(g, e.ParentID),
			Arguments: strings.Fields(e.Display),
			File:      file,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("export: encode compile commands: %w", err)
	}
	return nil
}

func dirDisplay(g *graph.Graph, parentID int64) string {
	if e, ok := g.Nodes[parentID]; ok {
		return e.Name
	}
	return ""
}

// nodeShape maps a node type to a Graphviz shape attribute.
func nodeShape(t entry.Type) string {
	switch t {
	case entry.TypeCommand:
		return "box"
	case entry.TypeDirectory, entry.TypeGeneratedDirectory:
		return "folder"
	case entry.TypeGhost:
		return "diamond"
	case entry.TypeVariable:
		return "ellipse"
	case entry.TypeGroup:
		return "hexagon"
	default:
		return "plaintext"
	}
}

// edgeStyle maps a link style to a Graphviz edge style attribute.
func edgeStyle(s link.Style) string {
	switch s {
	case link.StyleSticky:
		return "dashed"
	case link.StyleGroup:
		return "dotted"
	default:
		return "solid"
	}
}

// Graphviz emits g as a single Graphviz digraph, node shapes keyed by
// node type and edge styles keyed by link style.
func Graphviz(w io.Writer, g *graph.Graph) error {
	var b strings.Builder
	b.WriteString("digraph tupcore {\n")

	ids := make([]int64, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e := g.Nodes[id]
		label := e.Name
		if label == "" {
			label = fmt.Sprintf("#%d", id)
		}
		fmt.Fprintf(&b, "  n%d [label=%q shape=%s];\n", id, label, nodeShape(e.Type))
	}

	edges := append([]graph.Edge(nil), g.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	for _, e := range edges {
		fmt.Fprintf(&b, "  n%d -> n%d [style=%s];\n", e.From, e.To, edgeStyle(e.Style))
	}

	b.WriteString("}\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("export: write graphviz: %w", err)
	}
	return nil
}
