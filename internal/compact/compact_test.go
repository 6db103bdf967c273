package compact

import (
	"testing"

	"github.com/iotaledger/mpt/internal/node"
	"github.com/iotaledger/mpt/internal/statemachine"
	"github.com/iotaledger/mpt/internal/voffset"
	"github.com/stretchr/testify/require"
)

// policySM lets a test disable the Compact()/AutoExpire() frontier policies
// at every depth (spec §6.2: "whether the frontier policies apply at this
// depth"), independent of Default's always-on behavior.
type policySM struct {
	statemachine.Default
	compact    bool
	autoExpire bool
}

func (p policySM) Compact() bool    { return p.compact }
func (p policySM) AutoExpire() bool { return p.autoExpire }

type fakeAllocator struct {
	pageSize int
	nextID   uint32
	nextAge  uint64
	writes   map[uint32][]byte
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{pageSize: 64, writes: make(map[uint32][]byte)}
}

func (f *fakeAllocator) Allocate(list voffset.List) (uint32, uint64, error) {
	id := f.nextID
	f.nextID++
	age := f.nextAge
	f.nextAge++
	return id, age, nil
}

func (f *fakeAllocator) Write(chunkID uint32, offsetInChunk int64, data []byte) error {
	f.writes[chunkID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeAllocator) PageSize() int { return f.pageSize }

type fakeLoader struct {
	byOffset map[voffset.ChunkOffset]*node.Node
}

func (f *fakeLoader) Load(off voffset.ChunkOffset) (*node.Node, error) {
	return f.byOffset[off], nil
}

func TestApplyPrunesBelowAutoExpireFrontier(t *testing.T) {
	leaf := &node.Node{HasValue: true, Value: []byte("v"), Version: 5}
	root := &node.Node{Version: 10}
	root.SetChild(1, node.Child{
		Next:              leaf,
		Fnext:             voffset.Pack(1, 0, 1),
		SubtrieMinVersion: 5,
	})

	c := New(&fakeLoader{}, newFakeAllocator(), Frontiers{AutoExpireVersion: 7})
	got, err := c.Apply(root)
	require.NoError(t, err)

	pos, ok := got.ChildPosition(1)
	require.True(t, ok)
	require.Nil(t, got.Children[pos].Next)
	require.False(t, got.Children[pos].Fnext.IsValid())
	require.Equal(t, []uint32{1}, c.Vacated, "pruning a leaf must report its chunk as vacated")
}

func TestApplyRewritesBelowCompactionFrontier(t *testing.T) {
	leaf := &node.Node{HasValue: true, Value: []byte("v"), Version: 1}
	root := &node.Node{Version: 10}
	staleOffset := voffset.Compact(voffset.Virtual{Phys: voffset.Pack(3, 0, 1), List: voffset.ListFast, Age: 1})
	root.SetChild(2, node.Child{
		Next:              leaf,
		Fnext:             voffset.Pack(3, 0, 1),
		MinOffsetFast:     staleOffset,
		MinOffsetSlow:     voffset.InvalidCompact,
		SubtrieMinVersion: 1,
	})

	alloc := newFakeAllocator()
	frontier := voffset.Compact(voffset.Virtual{Phys: voffset.Pack(3, 0, 1), List: voffset.ListFast, Age: 1000})
	c := New(&fakeLoader{}, alloc, Frontiers{CompactOffsetFast: frontier, AutoExpireVersion: -1})

	got, err := c.Apply(root)
	require.NoError(t, err)

	pos, ok := got.ChildPosition(2)
	require.True(t, ok)
	child := got.Children[pos]
	require.True(t, child.Fnext.IsValid())
	require.NotEqual(t, voffset.Pack(3, 0, 1), child.Fnext, "rewritten child must land on a fresh chunk")
	require.Len(t, alloc.writes, 1)
	require.Equal(t, []uint32{3}, c.Vacated, "copy-forward rewrite must report the superseded source chunk as vacated")
}

// TestApplyRecursesIntoStaleBranchToPreserveFreshGrandchild covers a branch
// child whose rolled-up subtrie_min_version (the minimum over its whole
// subtree) looks expirable even though one of its own children is fresh.
// Wholesale-dropping such a branch would lose the fresh grandchild,
// violating the "written at or after the frontier remains present"
// auto-expiration property (spec §8 property 7).
func TestApplyRecursesIntoStaleBranchToPreserveFreshGrandchild(t *testing.T) {
	staleLeaf := &node.Node{HasValue: true, Value: []byte("old"), Version: 1}
	freshLeaf := &node.Node{HasValue: true, Value: []byte("new"), Version: 50}

	branch := &node.Node{Version: 50}
	branch.SetChild(1, node.Child{Next: staleLeaf, Fnext: voffset.Pack(2, 0, 1), SubtrieMinVersion: 1})
	branch.SetChild(2, node.Child{Next: freshLeaf, Fnext: voffset.Pack(3, 0, 1), SubtrieMinVersion: 50})

	root := &node.Node{Version: 50}
	root.SetChild(5, node.Child{
		Next:              branch,
		Fnext:             voffset.Pack(1, 0, 1),
		SubtrieMinVersion: 1, // rolled up from the stale grandchild alone
	})

	alloc := newFakeAllocator()
	c := New(&fakeLoader{}, alloc, Frontiers{AutoExpireVersion: 25})
	got, err := c.Apply(root)
	require.NoError(t, err)

	pos, ok := got.ChildPosition(5)
	require.True(t, ok)
	rewrittenBranch := got.Children[pos].Next
	require.NotNil(t, rewrittenBranch, "branch child must survive, not be ghosted wholesale")

	stalePos, ok := rewrittenBranch.ChildPosition(1)
	require.True(t, ok)
	require.Nil(t, rewrittenBranch.Children[stalePos].Next, "the genuinely stale leaf grandchild is pruned")

	freshPos, ok := rewrittenBranch.ChildPosition(2)
	require.True(t, ok)
	require.Same(t, freshLeaf, rewrittenBranch.Children[freshPos].Next, "the fresh leaf grandchild survives")
}

func TestApplySkipsExpiryWhenStateMachineDisablesAutoExpire(t *testing.T) {
	leaf := &node.Node{HasValue: true, Value: []byte("v"), Version: 5}
	root := &node.Node{Version: 10}
	root.SetChild(1, node.Child{
		Next:              leaf,
		Fnext:             voffset.Pack(1, 0, 1),
		SubtrieMinVersion: 5,
	})

	c := New(&fakeLoader{}, newFakeAllocator(), Frontiers{AutoExpireVersion: 7})
	c.SM = policySM{Default: statemachine.NewDefault(nil), compact: true, autoExpire: false}
	got, err := c.Apply(root)
	require.NoError(t, err)

	pos, ok := got.ChildPosition(1)
	require.True(t, ok)
	require.Same(t, leaf, got.Children[pos].Next, "AutoExpire()==false must leave an otherwise-expirable child untouched")
}

func TestApplySkipsRewriteWhenStateMachineDisablesCompact(t *testing.T) {
	leaf := &node.Node{HasValue: true, Value: []byte("v"), Version: 1}
	root := &node.Node{Version: 10}
	staleOffset := voffset.Compact(voffset.Virtual{Phys: voffset.Pack(3, 0, 1), List: voffset.ListFast, Age: 1})
	root.SetChild(2, node.Child{
		Next:              leaf,
		Fnext:             voffset.Pack(3, 0, 1),
		MinOffsetFast:     staleOffset,
		MinOffsetSlow:     voffset.InvalidCompact,
		SubtrieMinVersion: 1,
	})

	alloc := newFakeAllocator()
	frontier := voffset.Compact(voffset.Virtual{Phys: voffset.Pack(3, 0, 1), List: voffset.ListFast, Age: 1000})
	c := New(&fakeLoader{}, alloc, Frontiers{CompactOffsetFast: frontier, AutoExpireVersion: -1})
	c.SM = policySM{Default: statemachine.NewDefault(nil), compact: false, autoExpire: true}

	got, err := c.Apply(root)
	require.NoError(t, err)

	pos, ok := got.ChildPosition(2)
	require.True(t, ok)
	require.Same(t, leaf, got.Children[pos].Next)
	require.Equal(t, voffset.Pack(3, 0, 1), got.Children[pos].Fnext, "Compact()==false must leave a stale-offset child un-rewritten")
	require.Empty(t, alloc.writes)
}

func TestApplyLeavesFreshChildrenUntouched(t *testing.T) {
	leaf := &node.Node{HasValue: true, Value: []byte("v"), Version: 10}
	root := &node.Node{Version: 10}
	root.SetChild(4, node.Child{
		Next:              leaf,
		Fnext:             voffset.Invalid,
		MinOffsetFast:     voffset.InvalidCompact,
		MinOffsetSlow:     voffset.InvalidCompact,
		SubtrieMinVersion: 10,
	})

	c := New(&fakeLoader{}, newFakeAllocator(), Frontiers{AutoExpireVersion: 0})
	got, err := c.Apply(root)
	require.NoError(t, err)

	pos, ok := got.ChildPosition(4)
	require.True(t, ok)
	require.Same(t, leaf, got.Children[pos].Next)
	require.False(t, got.Children[pos].Fnext.IsValid())
}
