// Package update implements the trie update engine (spec §4.3, C6): a
// single Upsert that walks a resident (lazily-loaded-on-demand) trie,
// applies a batch of key/value changes with copy-on-write semantics, and
// returns a new root without mutating any node reachable from an older
// root still in use by a concurrent reader.
//
// Grounded on the teacher's (iotaledger/trie.go) trie/trie.go Update/Delete
// descent and trie/nodestore.go's buffered-node copy-before-mutate
// discipline, generalized from the teacher's single-key-at-a-time API to
// spec §4.3's batched Upsert, and from the teacher's arbitrary-arity
// commitment children to the mask/16-ary branch layout of internal/node.
package update

import (
	"sort"

	"github.com/iotaledger/mpt/internal/errs"
	"github.com/iotaledger/mpt/internal/nibble"
	"github.com/iotaledger/mpt/internal/node"
	"github.com/iotaledger/mpt/internal/statemachine"
	"github.com/iotaledger/mpt/internal/voffset"
)

// Update is one change in an Upsert batch (spec §3.5): set Key to Value,
// remove Key entirely when Delete is true, or graft an already-built
// subtree at Key wholesale (used by CopyTrie, spec §4.6, to duplicate a
// subtrie under a new path/version without rewriting any of its nodes).
// Incarnation discards whatever subtrie currently lives at Key (its value
// and every descendant) and rebuilds it purely from the batch's other
// updates sharing Key as a prefix, used for EVM address re-creation (spec
// §3.5, §4.3 point 4).
type Update struct {
	Key         nibble.View
	Value       []byte
	Delete      bool
	Incarnation bool
	Graft       *node.Node
}

// UpdateList is a batch of Update, applied atomically by a single Upsert.
type UpdateList []Update

// pending is an Update whose Key has been trimmed down to the suffix still
// to be resolved from the current recursion point.
type pending struct {
	Key         nibble.View
	Value       []byte
	Delete      bool
	Incarnation bool
	Graft       *node.Node
}

// Loader resolves a child reference that exists only on disk (Fnext valid,
// Next nil) into its in-memory Node, for descent into subtries not already
// resident (spec §4.2's read path feeding the update engine).
type Loader interface {
	Load(off voffset.ChunkOffset) (*node.Node, error)
}

// Engine runs Upsert batches against a StateMachine's compute/cache/compact
// policy (spec §6.2) and a Loader for cold children.
type Engine struct {
	Loader Loader
	SM     statemachine.StateMachine
}

// New builds an Engine. loader may be nil if the caller guarantees the
// entire trie is already resident (e.g. in tests).
func New(loader Loader, sm statemachine.StateMachine) *Engine {
	return &Engine{Loader: loader, SM: sm}
}

// Upsert applies updates to the trie rooted at root (nil for an empty
// trie), stamping every touched node with version, and returns the new
// root. root itself, and every node reachable from it, is left untouched:
// every node on a path to a change is cloned before modification (spec
// §4.3's copy-on-write rule).
func (e *Engine) Upsert(root *node.Node, updates UpdateList, version int64) (*node.Node, error) {
	if len(updates) == 0 {
		return root, nil
	}
	sorted := make([]pending, len(updates))
	for i, u := range updates {
		sorted[i] = pending{Key: u.Key, Value: u.Value, Delete: u.Delete, Incarnation: u.Incarnation, Graft: u.Graft}
	}
	sort.Slice(sorted, func(i, j int) bool { return lessView(sorted[i].Key, sorted[j].Key) })

	newRoot, err := e.upsert(root, sorted, version)
	if err != nil {
		return nil, err
	}
	if newRoot != nil {
		errs.Assert(newRoot.CheckInvariants(true), "update: root invariant violated after upsert")
	}
	return newRoot, nil
}

func lessView(a, b nibble.View) bool {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	for i := 0; i < n; i++ {
		if a.At(i) != b.At(i) {
			return a.At(i) < b.At(i)
		}
	}
	return a.Len() < b.Len()
}

func cloneNode(n *node.Node) *node.Node {
	cp := *n
	cp.Children = append([]node.Child(nil), n.Children...)
	return &cp
}

// childRef builds the Child record a parent stores for a freshly-touched
// in-memory child: not yet flushed (Fnext invalid), but its commitment and
// version are already known so the parent can compute its own commitment
// and min_offset/subtrie_min_version bookkeeping without re-descending.
func childRef(child *node.Node) node.Child {
	fast, slow, minVersion := child.MinOffsets(voffset.InvalidVirtual)
	return node.Child{
		Next:              child,
		Fnext:             voffset.Invalid,
		ChildData:         child.Data,
		MinOffsetFast:     fast,
		MinOffsetSlow:     slow,
		SubtrieMinVersion: minVersion,
	}
}

// down/up notify the state machine's depth-tracking hooks (spec §6.2) as
// the engine descends into / ascends out of a branch nibble. A nil SM (used
// by tests that only care about trie shape) makes both no-ops.
func (e *Engine) down(branch byte) {
	if e.SM != nil {
		e.SM.Down(branch)
	}
}

func (e *Engine) up() {
	if e.SM != nil {
		e.SM.Up(1)
	}
}

func (e *Engine) loadChild(c node.Child) (*node.Node, error) {
	if c.Next != nil {
		return c.Next, nil
	}
	if !c.Fnext.IsValid() {
		return nil, nil
	}
	if e.Loader == nil {
		return nil, errs.Wrap(errs.ErrInvalidInput, "update: child not resident and no loader configured")
	}
	return e.Loader.Load(c.Fnext)
}

// upsert applies ups (keys already relative to n's position) to n, which
// may be nil (no existing subtrie here).
func (e *Engine) upsert(n *node.Node, ups []pending, version int64) (*node.Node, error) {
	if len(ups) == 0 {
		return n, nil
	}
	if n == nil {
		return e.buildFresh(ups, version)
	}

	common := n.Path.Len()
	for _, u := range ups {
		if c := nibble.CommonPrefixLen(n.Path, u.Key); c < common {
			common = c
		}
	}
	if common < n.Path.Len() {
		return e.split(n, ups, common, version)
	}

	nn := cloneNode(n)
	var valueUpdate *pending
	groups := make(map[byte][]pending)
	for _, u := range ups {
		rest := u.Key.Skip(common)
		if rest.Len() == 0 {
			uu := u
			valueUpdate = &uu
			continue
		}
		b := rest.At(0)
		u2 := u
		u2.Key = rest.Skip(1)
		groups[b] = append(groups[b], u2)
	}

	switch {
	case valueUpdate != nil && valueUpdate.Graft != nil:
		// The entire subtrie at this position is replaced by a copy of the
		// grafted node carrying n's path; its children are shared as-is.
		// finalize below recomputes its commitment from the same mask, child
		// commitments and value, and stamps it with version. Buffered updates
		// for other branches, if any, still apply on top of it.
		nn = cloneNode(valueUpdate.Graft)
		nn.Path = n.Path
	case valueUpdate != nil && valueUpdate.Incarnation:
		// Destroy the existing subtrie at this key wholesale (spec §3.5):
		// every sibling update bucketed into groups below shares this key
		// as a prefix, so they rebuild the replacement from scratch rather
		// than merging into n's old children.
		nn = &node.Node{Path: n.Path, Version: version}
		if !valueUpdate.Delete {
			nn.Value = valueUpdate.Value
			nn.HasValue = true
		}
	case valueUpdate != nil:
		if valueUpdate.Delete {
			nn.Value = nil
			nn.HasValue = false
		} else {
			nn.Value = valueUpdate.Value
			nn.HasValue = true
		}
	}

	for b, sub := range groups {
		// A branch with no existing child is built from the updates alone;
		// only an occupied branch needs its child resolved.
		var childNode *node.Node
		if pos, ok := nn.ChildPosition(b); ok {
			var err error
			childNode, err = e.loadChild(nn.Children[pos])
			if err != nil {
				return nil, err
			}
		}
		e.down(b)
		newChild, err := e.upsert(childNode, sub, version)
		e.up()
		if err != nil {
			return nil, err
		}
		if newChild == nil {
			nn.RemoveChild(b)
		} else {
			nn.SetChild(b, childRef(newChild))
		}
	}

	return e.finalize(nn, version)
}

// split handles the case where n's path diverges from the updates part way
// through: a new branch node is synthesized at the divergence point,
// holding the shortened old subtrie on one branch and freshly built
// subtries for the other updates (spec §4.3, "create-node on divergence").
// An update whose key ends exactly at the divergence point sets the new
// branch node's own value instead of routing into any branch (a node may
// carry both a value and children, spec §3.2).
func (e *Engine) split(n *node.Node, ups []pending, common int, version int64) (*node.Node, error) {
	var valueUpdate *pending
	groups := make(map[byte][]pending)
	for _, u := range ups {
		rest := u.Key.Skip(common)
		if rest.Len() == 0 {
			uu := u
			valueUpdate = &uu
			continue
		}
		b := rest.At(0)
		u2 := u
		u2.Key = rest.Skip(1)
		groups[b] = append(groups[b], u2)
	}

	branchNode := &node.Node{Path: n.Path.Slice(0, common), Version: version}

	if valueUpdate != nil && valueUpdate.Incarnation {
		// The entire old subtrie n lies strictly under this key (n.Path is
		// longer than the update's own key): discard it wholesale rather
		// than preserving any part of it on the old branch (spec §3.5).
		if !valueUpdate.Delete {
			branchNode.Value = valueUpdate.Value
			branchNode.HasValue = true
		}
		for b, g := range groups {
			e.down(b)
			child, err := e.upsert(nil, g, version)
			e.up()
			if err != nil {
				return nil, err
			}
			if child != nil {
				branchNode.SetChild(b, childRef(child))
			}
		}
		return e.finalize(branchNode, version)
	}
	if valueUpdate != nil && !valueUpdate.Delete {
		branchNode.Value = valueUpdate.Value
		branchNode.HasValue = true
	}

	branchOld := n.Path.At(common)
	oldRemainder := cloneNode(n)
	oldRemainder.Path = n.Path.Skip(common + 1)

	oldUpdates := groups[branchOld]
	delete(groups, branchOld)
	e.down(branchOld)
	mergedOld, err := e.upsert(oldRemainder, oldUpdates, version)
	e.up()
	if err != nil {
		return nil, err
	}
	if mergedOld != nil {
		branchNode.SetChild(branchOld, childRef(mergedOld))
	}

	for b, g := range groups {
		e.down(b)
		child, err := e.upsert(nil, g, version)
		e.up()
		if err != nil {
			return nil, err
		}
		if child != nil {
			branchNode.SetChild(b, childRef(child))
		}
	}

	return e.finalize(branchNode, version)
}

// buildFresh builds a brand-new subtrie from a batch of updates with no
// existing node at this position. Deletions among ups are no-ops.
func (e *Engine) buildFresh(ups []pending, version int64) (*node.Node, error) {
	filtered := make([]pending, 0, len(ups))
	for _, u := range ups {
		if !u.Delete {
			filtered = append(filtered, u)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	common := filtered[0].Key.Len()
	for _, u := range filtered[1:] {
		if c := nibble.CommonPrefixLen(filtered[0].Key, u.Key); c < common {
			common = c
		}
	}

	n := &node.Node{Path: filtered[0].Key.Slice(0, common), Version: version}
	var valueUpdate *pending
	groups := make(map[byte][]pending)
	for _, u := range filtered {
		rest := u.Key.Skip(common)
		if rest.Len() == 0 {
			uu := u
			valueUpdate = &uu
			continue
		}
		b := rest.At(0)
		u2 := u
		u2.Key = rest.Skip(1)
		groups[b] = append(groups[b], u2)
	}
	if valueUpdate != nil && valueUpdate.Graft != nil {
		path := n.Path
		n = cloneNode(valueUpdate.Graft)
		n.Path = path
	} else if valueUpdate != nil {
		n.Value = valueUpdate.Value
		n.HasValue = true
	}
	for b, g := range groups {
		e.down(b)
		child, err := e.upsert(nil, g, version)
		e.up()
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.SetChild(b, childRef(child))
		}
	}
	return e.finalize(n, version)
}

// finalize applies the post-update structural rules (spec §4.3): a node
// with neither value nor children vanishes; a node with no value and
// exactly one child collapses into that child with the branch nibble and
// both paths concatenated; otherwise the node's commitment is recomputed.
func (e *Engine) finalize(n *node.Node, version int64) (*node.Node, error) {
	if !n.HasValue && n.NumberOfChildren() == 0 {
		return nil, nil
	}
	if !n.HasValue && n.NumberOfChildren() == 1 {
		branch := n.SoleChildBranch()
		pos, _ := n.ChildPosition(branch)
		child := n.Children[pos]
		childNode, err := e.loadChild(child)
		if err != nil {
			return nil, err
		}
		merged := cloneNode(childNode)
		merged.Path = nibble.ConcatView(n.Path, nibble.Concat(branch, childNode.Path))
		return e.computeAndStamp(merged, version)
	}
	return e.computeAndStamp(n, version)
}

func (e *Engine) computeAndStamp(n *node.Node, version int64) (*node.Node, error) {
	childData := make([][]byte, len(n.Children))
	for i, c := range n.Children {
		childData[i] = c.ChildData
	}
	compute := statemachine.Identity
	if e.SM != nil {
		compute = e.SM.Compute()
	}
	n.Data = compute(n.Mask, childData, n.Value, n.HasValue)
	n.Version = version
	return n, nil
}
