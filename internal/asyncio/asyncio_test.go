package asyncio

import (
	"context"
	"testing"

	"github.com/iotaledger/mpt/internal/pool"
	"github.com/iotaledger/mpt/internal/voffset"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.Open(pool.Options{Anon: true, ChunkSize: 4096, PageSize: 512, NumChunks: 8})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func writePage(t *testing.T, p *pool.Pool, chunkID uint32, payload byte) voffset.ChunkOffset {
	t.Helper()
	buf := make([]byte, p.PageSize())
	for i := range buf {
		buf[i] = payload
	}
	require.NoError(t, p.WriteChunk(chunkID, 0, buf))
	return voffset.Pack(chunkID, 0, 1)
}

func TestRingReadBlocks(t *testing.T) {
	p := newTestPool(t)
	off := writePage(t, p, 0, 0xAB)

	r := NewRing(p, 4, false)
	data, err := r.Read(context.Background(), off)
	require.NoError(t, err)
	require.Equal(t, p.PageSize(), len(data))
	require.Equal(t, byte(0xAB), data[0])
}

func TestRingSubmitReadAndPoll(t *testing.T) {
	p := newTestPool(t)
	off := writePage(t, p, 1, 0xCD)

	r := NewRing(p, 4, false)
	ch := r.SubmitRead(context.Background(), off)

	res := <-ch
	require.NoError(t, res.Err)
	require.Equal(t, byte(0xCD), res.Data[0])

	// A channel that already delivered its value still polls non-blocking
	// without a second send.
	_, ready := Poll(ch)
	require.False(t, ready)
}

func TestRingWriteIsRejectedOnReadOnlyPoolClone(t *testing.T) {
	p := newTestPool(t)
	writePage(t, p, 0, 0x01)

	ro, err := pool.OpenReadOnly(pool.Options{Anon: true, ChunkSize: 4096, PageSize: 512, NumChunks: 8})
	require.NoError(t, err)
	t.Cleanup(func() { ro.Close() })

	r := NewRing(ro, 1, true)
	require.True(t, r.ReadOnly())
	err = r.Write(0, 0, make([]byte, 512))
	require.Error(t, err)
}

func TestRingPrefetchReadsEveryValidOffsetConcurrently(t *testing.T) {
	p := newTestPool(t)
	off0 := writePage(t, p, 0, 0x10)
	off1 := writePage(t, p, 1, 0x20)
	off2 := writePage(t, p, 2, 0x30)

	r := NewRing(p, 4, false)
	results, err := r.Prefetch(context.Background(), []voffset.ChunkOffset{off0, voffset.Invalid, off1, off2})
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Equal(t, byte(0x10), results[0][0])
	require.Nil(t, results[1])
	require.Equal(t, byte(0x20), results[2][0])
	require.Equal(t, byte(0x30), results[3][0])
}
