// Package node implements the unified trie node (spec §3.2): the single
// entity that simultaneously plays the role of extension, branch, and leaf
// in a classical Merkle Patricia trie.
//
// Grounded on the teacher's (iotaledger/trie.go) trie/nodedata.go and
// common/nodedata.go for the packed-field shape, generalized from their
// arbitrary-arity single-child-commitment layout to the mask/16-ary
// branching layout Matthalp-go-ethereum's ludicroustrie/internal/storage
// (ChildrenMask, Full) and turbotrie/internal/node/node.go model for a
// nibble trie.
package node

import (
	"github.com/iotaledger/mpt/internal/nibble"
	"github.com/iotaledger/mpt/internal/voffset"
)

// Child is one positional entry in a Node's dense child array.
type Child struct {
	// Fnext is the physical chunk offset of the child on disk. Invalid if
	// the child has never been flushed (still only in memory).
	Fnext voffset.ChunkOffset
	// Next optionally owns an in-memory loaded child Node.
	Next *Node
	// ChildData is the caller-opaque hash/commitment of the child.
	ChildData []byte
	// MinOffsetFast/MinOffsetSlow are the compact virtual offsets of the
	// oldest chunk referenced transitively by this child, partitioned by
	// list.
	MinOffsetFast voffset.CompactVirtual
	MinOffsetSlow voffset.CompactVirtual
	// SubtrieMinVersion is the minimum version across the child's subtrie.
	SubtrieMinVersion int64
}

// Node is the sole trie entity (spec §3.2).
type Node struct {
	Mask     uint16
	Path     nibble.View
	Value    []byte // meaningful only when HasValue is set; may be nil even then
	HasValue bool
	Children []Child // dense, positional over set bits of Mask
	Version  int64
	Data     []byte // cached hash/commitment, produced by the compute function
}

// NumberOfChildren returns popcount(Mask).
func (n *Node) NumberOfChildren() int {
	return popcount(n.Mask)
}

func popcount(mask uint16) int {
	count := 0
	for mask != 0 {
		mask &= mask - 1
		count++
	}
	return count
}

// ChildPosition returns the dense index of the child on nibble branch, and
// whether that branch is occupied.
func (n *Node) ChildPosition(branch byte) (int, bool) {
	bit := uint16(1) << branch
	if n.Mask&bit == 0 {
		return 0, false
	}
	pos := popcount(n.Mask & (bit - 1))
	return pos, true
}

// SetChild installs (or replaces) the child at nibble branch.
func (n *Node) SetChild(branch byte, c Child) {
	bit := uint16(1) << branch
	pos := popcount(n.Mask & (bit - 1))
	if n.Mask&bit != 0 {
		n.Children[pos] = c
		return
	}
	n.Mask |= bit
	n.Children = append(n.Children, Child{})
	copy(n.Children[pos+1:], n.Children[pos:])
	n.Children[pos] = c
}

// RemoveChild deletes the child at nibble branch, if present.
func (n *Node) RemoveChild(branch byte) {
	bit := uint16(1) << branch
	if n.Mask&bit == 0 {
		return
	}
	pos := popcount(n.Mask & (bit - 1))
	n.Children = append(n.Children[:pos], n.Children[pos+1:]...)
	n.Mask &^= bit
}

// SoleChildBranch returns the single set branch nibble when exactly one
// child is present; only valid when NumberOfChildren() == 1.
func (n *Node) SoleChildBranch() byte {
	for b := byte(0); b < 16; b++ {
		if n.Mask&(uint16(1)<<b) != 0 {
			return b
		}
	}
	panic("node: SoleChildBranch called with no children set")
}

// BranchAt returns the nibble whose child occupies dense position pos
// (inverse of ChildPosition), for callers that walk Children by index and
// need the branch nibble back (e.g. state-machine Down/Up depth notices).
func (n *Node) BranchAt(pos int) byte {
	for b := byte(0); b < 16; b++ {
		if n.Mask&(uint16(1)<<b) == 0 {
			continue
		}
		if pos == 0 {
			return b
		}
		pos--
	}
	panic("node: BranchAt position out of range")
}

// CheckInvariants validates the structural invariants of spec §3.2. It is
// intended to be called at node-construction boundaries; violations are
// fatal per spec §7.
func (n *Node) CheckInvariants(isRoot bool) bool {
	if n.NumberOfChildren() < 2 && !n.HasValue && !isRoot {
		return false
	}
	minVersion := n.Version
	for _, c := range n.Children {
		if c.SubtrieMinVersion > n.Version {
			return false
		}
		if c.SubtrieMinVersion < minVersion {
			minVersion = c.SubtrieMinVersion
		}
	}
	return true
}

// MinOffsets computes this node's own min_offset_fast/min_offset_slow and
// subtrie_min_version, given the chunk/list this node itself will be
// written to (own may be invalid if not yet flushed).
func (n *Node) MinOffsets(own voffset.Virtual) (fast, slow voffset.CompactVirtual, minVersion int64) {
	fast, slow = voffset.InvalidCompact, voffset.InvalidCompact
	if own.IsValid() {
		switch own.List {
		case voffset.ListFast:
			fast = voffset.Compact(own)
		case voffset.ListSlow:
			slow = voffset.Compact(own)
		}
	}
	minVersion = n.Version
	for _, c := range n.Children {
		fast = voffset.Min(fast, c.MinOffsetFast)
		slow = voffset.Min(slow, c.MinOffsetSlow)
		if c.SubtrieMinVersion < minVersion {
			minVersion = c.SubtrieMinVersion
		}
	}
	return fast, slow, minVersion
}
