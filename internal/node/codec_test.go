package node

import (
	"testing"

	"github.com/iotaledger/mpt/internal/nibble"
	"github.com/iotaledger/mpt/internal/voffset"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	n := &Node{
		Mask:     0,
		Path:     nibble.Of([]byte{0xab, 0xc0}).Slice(0, 3),
		HasValue: true,
		Value:    []byte("hello"),
		Version:  42,
		Data:     []byte{1, 2, 3, 4},
	}
	n.SetChild(3, Child{
		Fnext:             voffset.Pack(7, 1024, 3),
		ChildData:         []byte{9, 9, 9},
		MinOffsetFast:     voffset.CompactVirtual(5),
		MinOffsetSlow:     voffset.InvalidCompact,
		SubtrieMinVersion: 10,
	})
	n.SetChild(9, Child{
		Fnext:             voffset.Invalid,
		ChildData:         []byte{1},
		MinOffsetFast:     voffset.InvalidCompact,
		MinOffsetSlow:     voffset.CompactVirtual(2),
		SubtrieMinVersion: 40,
	})

	buf := Encode(n)
	got, err := Decode(buf)
	require.NoError(t, err)

	require.Equal(t, n.Mask, got.Mask)
	require.Equal(t, n.Path.String(), got.Path.String())
	require.Equal(t, n.HasValue, got.HasValue)
	require.Equal(t, n.Value, got.Value)
	require.Equal(t, n.Version, got.Version)
	require.Equal(t, n.Data, got.Data)
	require.Equal(t, len(n.Children), len(got.Children))
	for i := range n.Children {
		require.Equal(t, n.Children[i].ChildData, got.Children[i].ChildData)
		require.Equal(t, n.Children[i].MinOffsetFast, got.Children[i].MinOffsetFast)
		require.Equal(t, n.Children[i].MinOffsetSlow, got.Children[i].MinOffsetSlow)
		require.Equal(t, n.Children[i].SubtrieMinVersion, got.Children[i].SubtrieMinVersion)
		// fnext (including its page-count spare) survives encode/decode
		// unchanged: a reader needs it to size the child's physical read.
		require.Equal(t, n.Children[i].Fnext, got.Children[i].Fnext)
	}
}

func TestChildMaskOperations(t *testing.T) {
	n := &Node{}
	n.SetChild(5, Child{ChildData: []byte{1}})
	n.SetChild(2, Child{ChildData: []byte{2}})
	require.Equal(t, 2, n.NumberOfChildren())

	pos, ok := n.ChildPosition(2)
	require.True(t, ok)
	require.Equal(t, 0, pos)
	require.Equal(t, []byte{2}, n.Children[pos].ChildData)

	pos, ok = n.ChildPosition(5)
	require.True(t, ok)
	require.Equal(t, 1, pos)

	_, ok = n.ChildPosition(9)
	require.False(t, ok)

	n.RemoveChild(2)
	require.Equal(t, 1, n.NumberOfChildren())
	require.Equal(t, byte(5), n.SoleChildBranch())
}
