// Package reaper implements ghost-node garbage collection: a node is
// eligible for removal once it is type ghost, has zero incident links,
// and is referenced by no variable entry or flag set. Sweep never scans
// the full nodes table — only the candidate ids marked during the
// enclosing transaction.
package reaper

import (
	"context"
	"fmt"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/store"
)

// Candidates accumulates node ids that lost a reference during a
// transaction and should be checked for collection at commit time. Zero
// value is ready to use.
type Candidates struct {
	ids map[int64]struct{}
}

// MarkCandidate records id as worth checking at the next Sweep. Called by
// link and flag deleters whenever they remove what may have been a
// node's last reference.
func (c *Candidates) MarkCandidate(id int64) {
	if c.ids == nil {
		c.ids = make(map[int64]struct{})
	}
	c.ids[id] = struct{}{}
}

// Sweep checks every marked candidate and removes the ones that qualify,
// then clears the candidate set. It returns the ids actually removed.
func Sweep(ctx context.Context, tx *store.Tx, entries *entry.Table, c *Candidates) ([]int64, error) {
	if len(c.ids) == 0 {
		return nil, nil
	}

	var removed []int64
	for id := range c.ids {
		eligible, err := eligible(ctx, tx, entries, id)
		if err != nil {
			return nil, fmt.Errorf("reaper: check %d: %w", id, err)
		}
		if !eligible {
			continue
		}
		if err := entries.Remove(ctx, tx, id, false); err != nil {
			return nil, fmt.Errorf("reaper: remove %d: %w", id, err)
		}
		removed = append(removed, id)
	}
	c.ids = nil
	return removed, nil
}

func eligible(ctx context.Context, tx *store.Tx, entries *entry.Table, id int64) (bool, error) {
	e, err := entries.GetOrLoad(ctx, id)
	if err != nil {
		if err == entry.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if e.Type != entry.TypeGhost {
		return false, nil
	}

	var linkCount int
	row := tx.QueryRow(ctx, `SELECT COUNT(*) FROM links WHERE from_id = ? OR to_id = ?`, id, id)
	if err := row.Scan(&linkCount); err != nil {
		return false, fmt.Errorf("count links: %w", err)
	}
	if linkCount > 0 {
		return false, nil
	}

	var varCount int
	row = tx.QueryRow(ctx, `SELECT COUNT(*) FROM variables WHERE backing_id = ?`, id)
	if err := row.Scan(&varCount); err != nil {
		return false, fmt.Errorf("count variable refs: %w", err)
	}
	if varCount > 0 {
		return false, nil
	}

	for _, table := range []string{"flag_create", "flag_modify", "flag_config", "flag_variant", "flag_transient"} {
		var flagCount int
		row := tx.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE node_id = ?`, id)
		if err := row.Scan(&flagCount); err != nil {
			return false, fmt.Errorf("count %s refs: %w", table, err)
		}
		if flagCount > 0 {
			return false, nil
		}
	}

	return true, nil
}
