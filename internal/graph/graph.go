// Package graph builds the dependency DAG used for topological execution
// and for the `graph` CLI export, grounded on the node/children traversal
// shape of the mache in-memory graph store and the DAG worklist walk of
// aghassemi's syncbase dag.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/link"
)

// PrunePolicy selects which direction of reachability a PruneSpec keeps.
type PrunePolicy string

const (
	// PruneAll keeps nodes reachable from the targets in either direction.
	PruneAll PrunePolicy = "all"
	// PruneUpwards keeps only the targets' ancestors (what they depend on).
	PruneUpwards PrunePolicy = "upwards"
	// PruneDownwards keeps only the targets' descendants (what depends on them).
	PruneDownwards PrunePolicy = "downwards"
)

// Valid reports whether p is one of the known prune policies.
func (p PrunePolicy) Valid() bool {
	switch p {
	case PruneAll, PruneUpwards, PruneDownwards:
		return true
	}
	return false
}

// PruneSpec narrows a built graph down to the neighborhood of Targets.
type PruneSpec struct {
	Targets []int64
	Policy  PrunePolicy
}

// BuildOptions controls optional expansion and post-processing steps.
type BuildOptions struct {
	// Stickies additionally attaches sticky-only leaf edges from every
	// visited node, without expanding past them.
	Stickies bool
	// Prune, if set, restricts the result to Targets' reachability
	// neighborhood under Policy.
	Prune *PruneSpec
	// Combine requests that Clusters be populated by coalescing nodes that
	// share a directory and type (visual/logical grouping only; Nodes and
	// Edges are unaffected).
	Combine bool
}

// Edge is one edge of the built graph, carrying the originating link style
// for callers that need to distinguish normal/sticky/group/output edges.
type Edge struct {
	From, To int64
	Style    link.Style
}

// Cluster groups nodes sharing a (parent, type) pair, produced only when
// BuildOptions.Combine is set.
type Cluster struct {
	ParentID int64
	Type     entry.Type
	Members  []int64
}

// Graph is a built dependency DAG: every visited node plus every edge
// discovered while expanding it.
type Graph struct {
	Nodes    map[int64]*entry.Entry
	Edges    []Edge
	Clusters []Cluster
}

// Builder constructs Graphs over an entry table and link engine.
type Builder struct {
	entries *entry.Table
	links   *link.Engine
}

// New returns a Builder bound to entries and links.
func New(entries *entry.Table, links *link.Engine) *Builder {
	return &Builder{entries: entries, links: links}
}

// Build runs the seed-expansion algorithm: a deterministic worklist,
// ascending-id tie-break, over seeds (normally every node currently
// flagged create or modify, or a user-supplied target list).
func (b *Builder) Build(ctx context.Context, seeds []int64, opts BuildOptions) (*Graph, error) {
	g := &Graph{Nodes: make(map[int64]*entry.Entry)}

	visited := make(map[int64]bool)
	var pending []int64

	sortedSeeds := append([]int64(nil), seeds...)
	sort.Slice(sortedSeeds, func(i, j int) bool { return sortedSeeds[i] < sortedSeeds[j] })

	enqueue := func(id int64) error {
		if visited[id] {
			return nil
		}
		e, err := b.entries.GetOrLoad(ctx, id)
		if err != nil {
			return fmt.Errorf("graph: load node %d: %w", id, err)
		}
		visited[id] = true
		g.Nodes[id] = e
		pending = append(pending, id)
		return nil
	}

	for _, id := range sortedSeeds {
		if err := enqueue(id); err != nil {
			return nil, err
		}
	}

	for len(pending) > 0 {
		n := pending[0]
		pending = pending[1:]

		e := g.Nodes[n]

		for _, style := range []link.Style{link.StyleNormal, link.StyleSticky, link.StyleOutput} {
			edges, err := b.links.OutgoingByStyle(ctx, n, style)
			if err != nil {
				return nil, fmt.Errorf("graph: outgoing %d (%s): %w", n, style, err)
			}
			sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
			for _, le := range edges {
				g.Edges = append(g.Edges, Edge{From: le.From, To: le.To, Style: le.Style})
				if err := enqueue(le.To); err != nil {
					return nil, err
				}
			}
		}

		if e.Type == entry.TypeGroup {
			producers, err := b.links.DistinctGroupTargets(ctx, n)
			if err != nil {
				return nil, fmt.Errorf("graph: group targets %d: %w", n, err)
			}
			sort.Slice(producers, func(i, j int) bool { return producers[i] < producers[j] })
			for _, p := range producers {
				g.Edges = append(g.Edges, Edge{From: n, To: p, Style: link.StyleGroup})
				if err := enqueue(p); err != nil {
					return nil, err
				}
			}
		}

		if e.Type == entry.TypeDirectory || e.Type == entry.TypeGeneratedDirectory {
			children := b.entries.Children(n)
			sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
			for _, c := range children {
				g.Edges = append(g.Edges, Edge{From: n, To: c.ID, Style: link.StyleNormal})
				if err := enqueue(c.ID); err != nil {
					return nil, err
				}
			}
		}
	}

	if opts.Stickies {
		if err := b.attachStickyLeaves(ctx, g, visited); err != nil {
			return nil, err
		}
	}

	if opts.Prune != nil {
		if err := prune(g, *opts.Prune); err != nil {
			return nil, err
		}
	}

	if opts.Combine {
		g.Clusters = combine(g)
	}

	return g, nil
}

// attachStickyLeaves adds sticky edges from every already-visited node to
// targets not otherwise reached, without expanding past those targets.
func (b *Builder) attachStickyLeaves(ctx context.Context, g *Graph, visited map[int64]bool) error {
	seen := make(map[[2]int64]bool, len(g.Edges))
	for _, e := range g.Edges {
		if e.Style == link.StyleSticky {
			seen[[2]int64{e.From, e.To}] = true
		}
	}

	ids := make([]int64, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, n := range ids {
		edges, err := b.links.OutgoingByStyle(ctx, n, link.StyleSticky)
		if err != nil {
			return fmt.Errorf("graph: sticky leaves %d: %w", n, err)
		}
		for _, le := range edges {
			if seen[[2]int64{le.From, le.To}] {
				continue
			}
			seen[[2]int64{le.From, le.To}] = true
			if _, ok := g.Nodes[le.To]; !ok {
				e, err := b.entries.GetOrLoad(ctx, le.To)
				if err != nil {
					return fmt.Errorf("graph: load sticky leaf %d: %w", le.To, err)
				}
				g.Nodes[le.To] = e
			}
			g.Edges = append(g.Edges, Edge{From: le.From, To: le.To, Style: link.StyleSticky})
		}
	}
	return nil
}

// prune restricts g to the reachability neighborhood of spec.Targets under
// spec.Policy: pure graph reachability, deterministic regardless of edge
// insertion order.
func prune(g *Graph, spec PruneSpec) error {
	if !spec.Policy.Valid() {
		return fmt.Errorf("graph: invalid prune policy %q", spec.Policy)
	}

	successors := make(map[int64][]int64)
	predecessors := make(map[int64][]int64)
	for _, e := range g.Edges {
		successors[e.From] = append(successors[e.From], e.To)
		predecessors[e.To] = append(predecessors[e.To], e.From)
	}

	keep := make(map[int64]bool)
	var walk func(start int64, adj map[int64][]int64)
	walk = func(start int64, adj map[int64][]int64) {
		if keep[start] {
			return
		}
		keep[start] = true
		neighbors := append([]int64(nil), adj[start]...)
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, next := range neighbors {
			walk(next, adj)
		}
	}

	targets := append([]int64(nil), spec.Targets...)
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	for _, t := range targets {
		if spec.Policy == PruneAll || spec.Policy == PruneDownwards {
			walk(t, successors)
		}
		if spec.Policy == PruneAll || spec.Policy == PruneUpwards {
			walk(t, predecessors)
		}
	}

	for id := range g.Nodes {
		if !keep[id] {
			delete(g.Nodes, id)
		}
	}
	filtered := g.Edges[:0]
	for _, e := range g.Edges {
		if keep[e.From] && keep[e.To] {
			filtered = append(filtered, e)
		}
	}
	g.Edges = filtered
	return nil
}

// combine groups nodes sharing a (parent, type) pair into visual clusters,
// in deterministic order.
func combine(g *Graph) []Cluster {
	index := make(map[[2]any]*Cluster)
	var order [][2]any

	ids := make([]int64, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e := g.Nodes[id]
		key := [2]any{e.ParentID, e.Type}
		c, ok := index[key]
		if !ok {
			c = &Cluster{ParentID: e.ParentID, Type: e.Type}
			index[key] = c
			order = append(order, key)
		}
		c.Members = append(c.Members, id)
	}

	clusters := make([]Cluster, 0, len(order))
	for _, key := range order {
		clusters = append(clusters, *index[key])
	}
	return clusters
}
