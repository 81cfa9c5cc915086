// Package reconcile implements the I/O reconciler: the seven ordered steps
// run once per command execution to fold a sandbox's observed reads and
// writes back into the node graph, diffing observed state against stored
// state and applying the difference atomically, generalized from
// issues-changed-since-last-sync to edges-changed-since-last-reconciliation.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tupcore/tupcore/internal/entry"
	"github.com/tupcore/tupcore/internal/flags"
	"github.com/tupcore/tupcore/internal/link"
	"github.com/tupcore/tupcore/internal/reaper"
	"github.com/tupcore/tupcore/internal/store"
)

// BorkKind names which reconciliation step raised a diagnostic.
type BorkKind string

const (
	BorkUnexpectedWrite   BorkKind = "unexpected_write"
	BorkMissingOutput     BorkKind = "missing_output"
	BorkStickyViolation   BorkKind = "sticky_violation"
	BorkMultipleProducers BorkKind = "multiple_producers"
)

// Bork is a collected diagnostic: reconciliation never panics or aborts
// the surrounding transaction on its own account, it only records what
// went wrong and lets the caller decide. A bork aborts the command's
// contribution but not the surrounding batch.
type Bork struct {
	Kind   BorkKind
	NodeID int64
	Detail string
}

// Input gathers everything one command's execution reports for the
// reconciler to fold back into the node graph.
type Input struct {
	CmdID int64

	WriteSet []int64
	ReadSet  []int64

	DeclaredOutputSet []int64
	DeclaredInputSet  []int64 // sticky inputs
	GroupStickySet    []int64 // groups this command's current outputs belong to
	ExclusionSet      []int64

	DoUnlink        bool
	ComplainMissing bool
}

// Report is everything one Reconcile call produced.
type Report struct {
	Borks                []Bork
	ImportantLinkRemoved bool
	UnlinkRequested      []int64
	Reaped               []int64
}

// Reconciler runs the seven-step protocol against an entry table, link
// engine, and the modify/transient flag sets. Every edge and flag
// deletion the protocol performs feeds a shared reaper.Candidates set,
// which is swept for collectible ghosts once the protocol completes.
type Reconciler struct {
	entries    *entry.Table
	links      *link.Engine
	modify     *flags.Set
	transient  *flags.Set
	candidates *reaper.Candidates
}

// New returns a Reconciler bound to the given collaborators. modify and
// transient must be flags.Set values created with flags.KindModify and
// flags.KindTransient respectively. links, modify, and transient are
// wired to a shared candidate set so their deletions feed the ghost
// reaper Reconcile runs at the end of every call.
func New(entries *entry.Table, links *link.Engine, modify, transient *flags.Set) *Reconciler {
	candidates := &reaper.Candidates{}
	links.SetCandidates(candidates)
	modify.SetCandidates(candidates)
	transient.SetCandidates(candidates)
	return &Reconciler{entries: entries, links: links, modify: modify, transient: transient, candidates: candidates}
}

// Reconcile runs all seven steps, in order, inside tx, then sweeps every
// node any step's deletions marked as a reap candidate.
func (r *Reconciler) Reconcile(ctx context.Context, tx *store.Tx, in Input) (*Report, error) {
	report := &Report{}

	if err := r.unexpectedWrites(in, report); err != nil {
		return nil, err
	}
	if err := r.missingOutputs(ctx, tx, in, report); err != nil {
		return nil, err
	}
	if err := r.outputEdges(ctx, tx, in, report); err != nil {
		return nil, err
	}
	removedNormal, err := r.normalInputs(ctx, tx, in, report)
	if err != nil {
		return nil, err
	}
	if err := r.stickyViolations(in, report); err != nil {
		return nil, err
	}
	if err := r.importantLinkRemoval(ctx, tx, removedNormal, in.CmdID, report); err != nil {
		return nil, err
	}
	if err := r.groupMembership(ctx, tx, in, report); err != nil {
		return nil, err
	}

	reaped, err := reaper.Sweep(ctx, tx, r.entries, r.candidates)
	if err != nil {
		return nil, err
	}
	report.Reaped = reaped

	return report, nil
}

// unexpectedWrites: write_set \ declared_output_set \ exclusion_set is an
// error.
func (r *Reconciler) unexpectedWrites(in Input, report *Report) error {
	declared := toSet(in.DeclaredOutputSet)
	excluded := toSet(in.ExclusionSet)

	for _, id := range sorted(in.WriteSet) {
		if declared[id] || excluded[id] {
			continue
		}
		report.Borks = append(report.Borks, Bork{
			Kind:   BorkUnexpectedWrite,
			NodeID: id,
			Detail: "command wrote to an undeclared output",
		})
		if in.DoUnlink {
			report.UnlinkRequested = append(report.UnlinkRequested, id)
		}
	}
	return nil
}

// missingOutputs: declared_output_set \ write_set, for generated_file
// nodes, is an error if complain_missing, otherwise flagged transient.
func (r *Reconciler) missingOutputs(ctx context.Context, tx *store.Tx, in Input, report *Report) error {
	written := toSet(in.WriteSet)

	for _, id := range sorted(in.DeclaredOutputSet) {
		if written[id] {
			continue
		}
		e, err := r.entries.GetOrLoad(ctx, id)
		if err != nil {
			return fmt.Errorf("reconcile: load declared output %d: %w", id, err)
		}
		if e.Type != entry.TypeGeneratedFile {
			continue
		}
		if in.ComplainMissing {
			report.Borks = append(report.Borks, Bork{
				Kind:   BorkMissingOutput,
				NodeID: id,
				Detail: "declared output did not appear",
			})
			continue
		}
		if err := r.transient.Add(ctx, tx, id); err != nil {
			return fmt.Errorf("reconcile: flag transient %d: %w", id, err)
		}
	}
	return nil
}

// outputEdges: write_set ∩ declared_output_set becomes cmdid's output
// edges, giving each generated_file exactly one incoming edge from the
// command that produces it. A second command producing a node already
// produced by another is reported, not aborted: the first producer wins
// and the offending command is left unflagged.
func (r *Reconciler) outputEdges(ctx context.Context, tx *store.Tx, in Input, report *Report) error {
	written := toSet(in.WriteSet)
	for _, id := range sorted(in.DeclaredOutputSet) {
		if !written[id] {
			continue
		}
		if err := r.links.CreateUniqueLink(ctx, tx, in.CmdID, id); err != nil {
			if errors.Is(err, link.ErrMultipleProducers) {
				report.Borks = append(report.Borks, Bork{
					Kind:   BorkMultipleProducers,
					NodeID: id,
					Detail: err.Error(),
				})
				continue
			}
			return fmt.Errorf("reconcile: output edge %d->%d: %w", in.CmdID, id, err)
		}
	}
	return nil
}

// normalInputs: read_set becomes the normal edges into cmdid; the diff
// against the previous set is applied atomically. Returns the ids whose
// normal edge was removed, for importantLinkRemoval to inspect.
func (r *Reconciler) normalInputs(ctx context.Context, tx *store.Tx, in Input, report *Report) ([]int64, error) {
	incoming, err := r.links.Incoming(ctx, in.CmdID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: incoming %d: %w", in.CmdID, err)
	}
	old := make(map[int64]bool)
	for _, e := range incoming {
		if e.Style == link.StyleNormal {
			old[e.From] = true
		}
	}
	next := toSet(in.ReadSet)

	var removed []int64
	for _, id := range sorted(in.ReadSet) {
		if !old[id] {
			if err := r.links.CreateLink(ctx, tx, id, in.CmdID, link.StyleNormal); err != nil {
				return nil, fmt.Errorf("reconcile: add normal edge %d->%d: %w", id, in.CmdID, err)
			}
			if err := r.modify.Add(ctx, tx, in.CmdID); err != nil {
				return nil, fmt.Errorf("reconcile: flag modify %d: %w", in.CmdID, err)
			}
		}
	}
	for id := range old {
		if !next[id] {
			if err := r.links.DeleteLink(ctx, tx, id, in.CmdID, link.StyleNormal); err != nil {
				return nil, fmt.Errorf("reconcile: remove normal edge %d->%d: %w", id, in.CmdID, err)
			}
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed, nil
}

// stickyViolations: declared_input_set entries with no normal edge
// observed and no group cover are reported but the sticky edge is kept.
func (r *Reconciler) stickyViolations(in Input, report *Report) error {
	normal := toSet(in.ReadSet)
	covered := toSet(in.GroupStickySet)

	for _, id := range sorted(in.DeclaredInputSet) {
		if normal[id] || covered[id] {
			continue
		}
		report.Borks = append(report.Borks, Bork{
			Kind:   BorkStickyViolation,
			NodeID: id,
			Detail: "sticky input was declared but not read, and not covered by a group",
		})
	}
	return nil
}

// importantLinkRemoval: if a removed normal edge's source is a
// generated_file produced by a different command, the caller must re-run
// graph construction.
func (r *Reconciler) importantLinkRemoval(ctx context.Context, tx *store.Tx, removed []int64, cmdID int64, report *Report) error {
	for _, id := range removed {
		e, err := r.entries.GetOrLoad(ctx, id)
		if err != nil {
			return fmt.Errorf("reconcile: load removed-edge node %d: %w", id, err)
		}
		if e.Type != entry.TypeGeneratedFile {
			continue
		}
		producers, err := r.links.Incoming(ctx, id)
		if err != nil {
			return fmt.Errorf("reconcile: producers of %d: %w", id, err)
		}
		for _, p := range producers {
			if p.Style == link.StyleOutput && p.From != cmdID {
				report.ImportantLinkRemoved = true
				break
			}
		}
	}
	return nil
}

// groupMembership: the group edges from cmdid are brought in line with
// GroupStickySet.
func (r *Reconciler) groupMembership(ctx context.Context, tx *store.Tx, in Input, report *Report) error {
	existing, err := r.links.OutgoingByStyle(ctx, in.CmdID, link.StyleGroup)
	if err != nil {
		return fmt.Errorf("reconcile: existing groups of %d: %w", in.CmdID, err)
	}
	old := make(map[int64]bool, len(existing))
	for _, e := range existing {
		old[e.To] = true
	}
	next := toSet(in.GroupStickySet)

	for _, id := range sorted(in.GroupStickySet) {
		if !old[id] {
			if err := r.links.CreateLink(ctx, tx, in.CmdID, id, link.StyleGroup); err != nil {
				return fmt.Errorf("reconcile: add group edge %d->%d: %w", in.CmdID, id, err)
			}
		}
	}
	for id := range old {
		if !next[id] {
			if err := r.links.DeleteLink(ctx, tx, in.CmdID, id, link.StyleGroup); err != nil {
				return fmt.Errorf("reconcile: remove group edge %d->%d: %w", in.CmdID, id, err)
			}
		}
	}
	return nil
}

func toSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func sorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
