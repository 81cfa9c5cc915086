// Package link implements the directed edges between nodes: normal inputs,
// sticky inputs, outputs, and group membership.
package link

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tupcore/tupcore/internal/reaper"
	"github.com/tupcore/tupcore/internal/store"
)

// Style is the closed set of link kinds tupcore tracks, a closed
// string-backed enum in place of a bitmask.
type Style string

const (
	// StyleNormal is an ordinary input -> command edge, recorded from the
	// reads a command was observed to make.
	StyleNormal Style = "normal"
	// StyleSticky marks an input that must not be removed by a later,
	// narrower command re-run without tripping a sticky-violation bork.
	StyleSticky Style = "sticky"
	// StyleOutput marks a command -> produced-node edge.
	StyleOutput Style = "output"
	// StyleGroup marks membership of a node in a tup group.
	StyleGroup Style = "group"
)

// Valid reports whether s is one of the known link styles.
func (s Style) Valid() bool {
	switch s {
	case StyleNormal, StyleSticky, StyleOutput, StyleGroup:
		return true
	}
	return false
}

// ErrMultipleProducers is returned by CreateUniqueLink when to already has
// an incoming output edge from a from_id other than the one requested:
// at most one command may produce a given node.
var ErrMultipleProducers = errors.New("link: node already has a different producer")

// Engine provides the link operations over a store.
type Engine struct {
	db         *store.DB
	candidates *reaper.Candidates
}

// New returns an Engine bound to db.
func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

// SetCandidates wires c so that every edge deletion marks its endpoints as
// reap candidates. Optional: an Engine with no candidates set behaves as
// before, it just doesn't feed the ghost reaper.
func (e *Engine) SetCandidates(c *reaper.Candidates) {
	e.candidates = c
}

// CreateLink records from -> to with the given style, within tx. Creating
// a link that already exists with the same style is a no-op.
func (e *Engine) CreateLink(ctx context.Context, tx *store.Tx, from, to int64, style Style) error {
	if !style.Valid() {
		return fmt.Errorf("link: invalid style %q", style)
	}
	if _, err := tx.Exec(ctx, `
		INSERT OR IGNORE INTO links (from_id, to_id, style) VALUES (?, ?, ?)`,
		from, to, string(style)); err != nil {
		return fmt.Errorf("link: create %d->%d (%s): %w", from, to, style, err)
	}
	return nil
}

// CreateUniqueLink records an output edge from -> to, failing with
// ErrMultipleProducers if to already has a different producer: at most
// one producer per node.
func (e *Engine) CreateUniqueLink(ctx context.Context, tx *store.Tx, from, to int64) error {
	var existing int64
	row := tx.QueryRow(ctx, `
		SELECT from_id FROM links WHERE to_id = ? AND style = ?`, to, string(StyleOutput))
	switch err := row.Scan(&existing); err {
	case nil:
		if existing != from {
			return fmt.Errorf("%w: node %d produced by %d, requested %d", ErrMultipleProducers, to, existing, from)
		}
		return nil
	case sql.ErrNoRows:
		return e.CreateLink(ctx, tx, from, to, StyleOutput)
	default:
		return fmt.Errorf("link: check producer of %d: %w", to, err)
	}
}

// LinkExists reports whether from -> to exists with the given style.
func (e *Engine) LinkExists(ctx context.Context, from, to int64, style Style) (bool, error) {
	var exists int
	row := e.db.SQL().QueryRowContext(ctx, `
		SELECT 1 FROM links WHERE from_id = ? AND to_id = ? AND style = ?`, from, to, string(style))
	switch err := row.Scan(&exists); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("link: exists %d->%d (%s): %w", from, to, style, err)
	}
}

// Edge is one row of the links table, returned by the enumeration queries
// below.
type Edge struct {
	From  int64
	To    int64
	Style Style
}

// Incoming returns every edge pointing at to, in ascending (from_id, style)
// order.
func (e *Engine) Incoming(ctx context.Context, to int64) ([]Edge, error) {
	rows, err := e.db.SQL().QueryContext(ctx, `
		SELECT from_id, to_id, style FROM links WHERE to_id = ? ORDER BY from_id, style`, to)
	if err != nil {
		return nil, fmt.Errorf("link: incoming %d: %w", to, err)
	}
	return scanEdges(rows)
}

// OutgoingByStyle returns every edge of the given style leaving from, in
// ascending to_id order.
func (e *Engine) OutgoingByStyle(ctx context.Context, from int64, style Style) ([]Edge, error) {
	rows, err := e.db.SQL().QueryContext(ctx, `
		SELECT from_id, to_id, style FROM links WHERE from_id = ? AND style = ? ORDER BY to_id`,
		from, string(style))
	if err != nil {
		return nil, fmt.Errorf("link: outgoing %d (%s): %w", from, style, err)
	}
	return scanEdges(rows)
}

// ByGroup returns every membership edge for the given group node, in
// ascending from_id order.
func (e *Engine) ByGroup(ctx context.Context, group int64) ([]Edge, error) {
	rows, err := e.db.SQL().QueryContext(ctx, `
		SELECT from_id, to_id, style FROM links WHERE to_id = ? AND style = ? ORDER BY from_id`,
		group, string(StyleGroup))
	if err != nil {
		return nil, fmt.Errorf("link: by group %d: %w", group, err)
	}
	return scanEdges(rows)
}

// DistinctGroupTargets returns the deduplicated set of node ids that
// belong to group, used when fanning a group link out to its members.
func (e *Engine) DistinctGroupTargets(ctx context.Context, group int64) ([]int64, error) {
	edges, err := e.ByGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(edges))
	out := make([]int64, 0, len(edges))
	for _, edge := range edges {
		if seen[edge.From] {
			continue
		}
		seen[edge.From] = true
		out = append(out, edge.From)
	}
	return out, nil
}

// DeleteLink removes exactly one edge, if present. Removing an edge may
// strand a ghost on either end, so both endpoints are marked as reap
// candidates when candidates are wired.
func (e *Engine) DeleteLink(ctx context.Context, tx *store.Tx, from, to int64, style Style) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM links WHERE from_id = ? AND to_id = ? AND style = ?`, from, to, string(style)); err != nil {
		return fmt.Errorf("link: delete %d->%d (%s): %w", from, to, style, err)
	}
	if e.candidates != nil {
		e.candidates.MarkCandidate(from)
		e.candidates.MarkCandidate(to)
	}
	return nil
}

// DeleteAllIncident removes every link touching id, in either direction,
// within tx. id and every node on the other end of a removed edge are
// marked as reap candidates when candidates are wired.
func (e *Engine) DeleteAllIncident(ctx context.Context, tx *store.Tx, id int64) error {
	var partners []int64
	if e.candidates != nil {
		edges, err := e.incidentPartners(ctx, tx, id)
		if err != nil {
			return err
		}
		partners = edges
	}

	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return fmt.Errorf("link: delete incident on %d: %w", id, err)
	}

	if e.candidates != nil {
		e.candidates.MarkCandidate(id)
		for _, p := range partners {
			e.candidates.MarkCandidate(p)
		}
	}
	return nil
}

func (e *Engine) incidentPartners(ctx context.Context, tx *store.Tx, id int64) ([]int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT from_id, to_id FROM links WHERE from_id = ? OR to_id = ?`, id, id)
	if err != nil {
		return nil, fmt.Errorf("link: incident partners of %d: %w", id, err)
	}
	defer rows.Close()

	var partners []int64
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("link: scan incident partner: %w", err)
		}
		if from != id {
			partners = append(partners, from)
		}
		if to != id {
			partners = append(partners, to)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("link: incident partners of %d: %w", id, err)
	}
	return partners, nil
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		var style string
		if err := rows.Scan(&e.From, &e.To, &style); err != nil {
			return nil, fmt.Errorf("link: scan edge: %w", err)
		}
		e.Style = Style(style)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("link: scan edges: %w", err)
	}
	return edges, nil
}
