package meta

import (
	"testing"

	"github.com/iotaledger/mpt/internal/voffset"
	"github.com/stretchr/testify/require"
)

func TestListsAllocateFree(t *testing.T) {
	l := NewLists(10, 1)
	require.EqualValues(t, 9, l.Count(ListFree))

	id, age, err := l.Allocate(ListFast)
	require.NoError(t, err)
	require.EqualValues(t, 0, age)
	require.Equal(t, ListFast, l.ListOf(id))
	require.EqualValues(t, 8, l.Count(ListFree))
	require.EqualValues(t, 1, l.Count(ListFast))

	l.Free(id)
	require.Equal(t, ListFree, l.ListOf(id))
	require.EqualValues(t, 9, l.Count(ListFree))
}

func TestListsExhaustion(t *testing.T) {
	l := NewLists(2, 1) // only chunk 1 is free
	_, _, err := l.Allocate(ListFast)
	require.NoError(t, err)
	_, _, err = l.Allocate(ListFast)
	require.Error(t, err)
}

func TestRingAppendAndEvict(t *testing.T) {
	r := NewRing(4)
	for v := int64(0); v < 10; v++ {
		got := r.AppendRootOffset(voffset.Pack(uint32(v%20), 0, 1), voffset.Invalid, voffset.Invalid)
		require.Equal(t, v, got)
	}
	require.Equal(t, int64(9), r.LatestVersion())
	require.Equal(t, int64(6), r.EarliestValidVersion())

	_, err := r.Get(0)
	require.Error(t, err)
	off, err := r.Get(9)
	require.NoError(t, err)
	require.EqualValues(t, 9, off.ChunkID())
}

func TestRingRewind(t *testing.T) {
	r := NewRing(10)
	for v := int64(0); v < 5; v++ {
		r.AppendRootOffset(voffset.Pack(uint32(v), 0, 1), voffset.Invalid, voffset.Invalid)
	}
	_, _, err := r.RewindToVersion(2)
	require.NoError(t, err)
	require.Equal(t, int64(2), r.LatestVersion())
	_, err = r.Get(3)
	require.Error(t, err)
	_, err = r.Get(2)
	require.NoError(t, err)
}

func TestRingMoveForwardGap(t *testing.T) {
	r := NewRing(1000)
	for v := int64(0); v <= 10; v++ {
		r.AppendRootOffset(voffset.Pack(uint32(v), 0, 1), voffset.Invalid, voffset.Invalid)
	}
	err := r.MoveTrieVersionForward(10, 510)
	require.NoError(t, err)

	off, err := r.Get(510)
	require.NoError(t, err)
	require.EqualValues(t, 10, off.ChunkID())

	_, err = r.Get(11)
	require.Error(t, err)

	_, err = r.Get(5)
	require.NoError(t, err)
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := New(16, 8)
	id, _, err := h.Lists.Allocate(ListFast)
	require.NoError(t, err)
	_ = id
	h.Ring.AppendRootOffset(voffset.Pack(3, 128, 2), voffset.Invalid, voffset.Invalid)
	h.Ring.SetLatestFinalized(0)

	cur := Cursors{Fast: voffset.Pack(3, 256, 0), Slow: voffset.Invalid}
	buf, err := Encode(h, cur)
	require.NoError(t, err)

	got, gotCur, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, cur, gotCur)
	require.Equal(t, h.Ring.LatestVersion(), got.Ring.LatestVersion())
	require.Equal(t, h.Lists.Count(ListFast), got.Lists.Count(ListFast))
	require.Equal(t, h.Ring.LatestFinalized(), got.Ring.LatestFinalized())
}

func TestPinnedCachePinBlocksEviction(t *testing.T) {
	c := NewPinnedCache(2)
	c.Put(1, "a")
	v, ok := c.Pin(1)
	require.True(t, ok)
	require.Equal(t, "a", v)

	c.Evict(1)
	// Still retrievable while pinned.
	v, ok = c.Pin(1)
	require.True(t, ok)
	require.Equal(t, "a", v)
	c.Unpin(1)
	c.Unpin(1)

	_, ok = c.Pin(1)
	require.False(t, ok)
}
