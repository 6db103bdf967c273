// Package compact implements the compactor/expirer (spec §4.4, C7): the
// writer-thread pass that runs inside the same upsert that advances
// latest_version, rewriting subtries whose data has drifted behind the
// fast/slow compaction frontiers into fresh chunks, and pruning subtries
// whose data is entirely older than the auto-expiration frontier.
//
// No pack repo implements copy-forward chunk compaction (see DESIGN.md);
// the walk-and-rewrite shape is grounded on the teacher's (iotaledger/trie.go)
// trie/nodestore.go persistMutations pass, which performs the same
// "walk modified nodes, write each to its backing store" structure, here
// generalized to rewrite unmodified-but-stale subtries too.
package compact

import (
	"github.com/iotaledger/mpt/internal/node"
	"github.com/iotaledger/mpt/internal/statemachine"
	"github.com/iotaledger/mpt/internal/voffset"
)

// Loader resolves a child that is not already resident in memory, the same
// seam internal/update uses for cold descent.
type Loader interface {
	Load(off voffset.ChunkOffset) (*node.Node, error)
}

// Allocator is the subset of the storage pool/metadata the compactor needs
// to copy-forward a node into a fresh chunk.
type Allocator interface {
	Allocate(list voffset.List) (chunkID uint32, age uint64, err error)
	Write(chunkID uint32, offsetInChunk int64, data []byte) error
	PageSize() int
}

// Frontiers holds the two compaction cutoffs and the auto-expiration
// version cutoff the writer thread maintains (spec §4.4).
type Frontiers struct {
	CompactOffsetFast voffset.CompactVirtual
	CompactOffsetSlow voffset.CompactVirtual
	AutoExpireVersion int64
}

// Compactor applies Frontiers to a freshly-updated subtrie.
type Compactor struct {
	Loader    Loader
	Allocator Allocator
	Frontiers Frontiers
	// SM, if set, gates the frontier policies per depth via its Compact()/
	// AutoExpire() hooks (spec §6.2: "whether the frontier policies apply
	// at this depth") and receives Down/Up depth notices as Apply recurses.
	// A nil SM applies both policies unconditionally at every depth.
	SM statemachine.StateMachine
	// Vacated collects the chunk id of every child physically superseded by
	// Apply, whether by copy-forward rewrite or by expiry pruning (spec
	// §3.6: "a chunk returns to the free list when no live subtrie points
	// into it"). The caller owns the decision of *when* that is true: an
	// older, still-valid-in-the-ring version's on-disk root may still
	// reference a vacated chunk by its original physical offset, so Apply
	// itself never frees anything — it only reports candidates.
	Vacated []uint32
}

// New builds a Compactor.
func New(loader Loader, allocator Allocator, frontiers Frontiers) *Compactor {
	return &Compactor{Loader: loader, Allocator: allocator, Frontiers: frontiers}
}

func needsRewrite(v, frontier voffset.CompactVirtual) bool {
	return v.IsValid() && frontier.IsValid() && v < frontier
}

// Apply walks n's children, pruning any whose subtrie_min_version is below
// the auto-expiration frontier and rewriting (copy-forward) any whose
// min_offset_fast/min_offset_slow lies strictly below the corresponding
// compaction frontier. n itself is never rewritten by Apply — the caller
// (internal/writer) decides whether n is itself due for a flush once its
// own min_offset bookkeeping is known.
//
// subtrie_min_version is the *minimum* version across a child's whole
// subtree (spec §3.2), so a child flagged as an expiry candidate may still
// hold fresher siblings nested deeper in (a branch touched at version 5
// next to one touched at version 500 rolls up to subtrie_min_version=5).
// Only a true leaf (no children) can be dropped outright on that signal
// alone; a branch child is instead recursed into so any fresher nested
// content survives pruning (spec §8 property 7: "any key written at or
// after the frontier remains present").
func (c *Compactor) Apply(n *node.Node) (*node.Node, error) {
	if n == nil || len(n.Children) == 0 {
		return n, nil
	}

	autoExpireApplies := c.SM == nil || c.SM.AutoExpire()
	compactApplies := c.SM == nil || c.SM.Compact()

	children := append([]node.Child(nil), n.Children...)
	for i := range children {
		child := &children[i]

		expireCandidate := autoExpireApplies && child.SubtrieMinVersion < c.Frontiers.AutoExpireVersion
		rewriteCandidate := compactApplies && (needsRewrite(child.MinOffsetFast, c.Frontiers.CompactOffsetFast) ||
			needsRewrite(child.MinOffsetSlow, c.Frontiers.CompactOffsetSlow))
		if !expireCandidate && !rewriteCandidate {
			continue
		}

		childNode := child.Next
		if childNode == nil {
			if !child.Fnext.IsValid() {
				continue
			}
			loaded, err := c.Loader.Load(child.Fnext)
			if err != nil {
				return nil, err
			}
			childNode = loaded
		}

		if expireCandidate && len(childNode.Children) == 0 {
			// Pruning safety (spec §4.4): this runs inside the same upsert
			// that will advance latest_version, so no reader can observe a
			// half-pruned node. The commitment (ChildData) is untouched —
			// only the materialized leaf is dropped.
			if child.Fnext.IsValid() {
				c.Vacated = append(c.Vacated, child.Fnext.ChunkID())
			}
			child.Next = nil
			child.Fnext = voffset.Invalid
			child.MinOffsetFast = voffset.InvalidCompact
			child.MinOffsetSlow = voffset.InvalidCompact
			continue
		}

		if c.SM != nil {
			c.SM.Down(n.BranchAt(i))
		}
		rewritten, err := c.Apply(childNode)
		if c.SM != nil {
			c.SM.Up(1)
		}
		if err != nil {
			return nil, err
		}

		off, list, age, err := Flush(c.Allocator, rewritten, false)
		if err != nil {
			return nil, err
		}

		oldFnext := child.Fnext
		child.Next = rewritten
		child.Fnext = off
		fast, slow, minVersion := rewritten.MinOffsets(voffset.Virtual{Phys: off, List: list, Age: age})
		child.MinOffsetFast, child.MinOffsetSlow, child.SubtrieMinVersion = fast, slow, minVersion
		child.ChildData = rewritten.Data
		if oldFnext.IsValid() && oldFnext != off {
			c.Vacated = append(c.Vacated, oldFnext.ChunkID())
		}
	}

	// n may be shared with an older version's resident tree, so the updated
	// children go onto a copy rather than into n itself.
	cp := *n
	cp.Children = children
	return &cp, nil
}

// Flush picks fast or slow for n and allocates+writes n's encoded form into
// it. Shared by compaction's copy-forward rewrite (preferFast=false: a
// node with no fast-referencing descendant is entirely cold, so it goes to
// slow, per spec §4.4) and internal/writer's ordinary write-through of
// freshly built nodes (spec §4.3 step 5/6, preferFast=true: brand-new data
// is never "entirely cold", so the production policy of preferring fast
// applies, spec §9 open question #3) — both paths pick chunks and pad/write
// node bytes identically, differing only in which list a childless/
// all-slow node defaults to.
func Flush(allocator Allocator, n *node.Node, preferFast bool) (voffset.ChunkOffset, voffset.List, uint64, error) {
	list := voffset.ListSlow
	if preferFast {
		list = voffset.ListFast
	}
	for _, ch := range n.Children {
		if ch.MinOffsetFast.IsValid() {
			list = voffset.ListFast
			break
		}
	}

	chunkID, age, err := allocator.Allocate(list)
	if err != nil {
		return voffset.Invalid, list, 0, err
	}

	encoded := node.Encode(n)
	pageSize := allocator.PageSize()
	pageCount := (len(encoded) + pageSize - 1) / pageSize
	if pageCount == 0 {
		pageCount = 1
	}
	padded := make([]byte, pageCount*pageSize)
	copy(padded, encoded)
	if err := allocator.Write(chunkID, 0, padded); err != nil {
		return voffset.Invalid, list, 0, err
	}

	return voffset.Pack(chunkID, 0, uint16(pageCount)), list, age, nil
}
