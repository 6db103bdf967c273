// Package asyncio implements the async I/O layer of spec §4.2 (C2): it
// submits direct-I/O reads/writes against the storage pool and exposes a
// sender/receiver completion model with both polling and blocking drains,
// distinguishing read-only and read-write rings.
//
// The original hosts this on a fiber scheduler inside a single OS thread;
// per spec §9's own reimplementation guidance we use native goroutines on a
// bounded-concurrency ring instead, with explicit await points (a
// request's completion channel) standing in for a fiber suspension point.
// Bounded fan-out is grounded in vechain-thor's go.mod dependency on
// golang.org/x/sync (errgroup/semaphore) — no pack repo hand-rolls a fiber
// scheduler, and stdlib goroutines+channels are themselves the idiomatic
// Go substitute spec §9 calls for.
package asyncio

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/iotaledger/mpt/internal/pool"
	"github.com/iotaledger/mpt/internal/voffset"
)

// ReadResult is the outcome of a submitted read, delivered on a completion
// channel (the "receiver" half of the sender/receiver model).
type ReadResult struct {
	Data []byte
	Err  error
}

// Ring multiplexes reads against a pool.Pool with bounded concurrency. A
// read-only Ring is built over a pool opened with pool.OpenReadOnly; a
// read-write Ring additionally allows Write.
type Ring struct {
	p        *pool.Pool
	sem      *semaphore.Weighted
	readOnly bool
}

// NewRing builds a Ring with at most maxInFlight concurrent I/Os.
func NewRing(p *pool.Pool, maxInFlight int, readOnly bool) *Ring {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Ring{p: p, sem: semaphore.NewWeighted(int64(maxInFlight)), readOnly: readOnly}
}

// SubmitRead issues a read for off and returns a channel that receives
// exactly one ReadResult. This is the suspension point of spec §4.2: the
// caller (the writer goroutine's logical "fiber") can select on several
// outstanding channels, or simply receive to block.
func (r *Ring) SubmitRead(ctx context.Context, off voffset.ChunkOffset) <-chan ReadResult {
	out := make(chan ReadResult, 1)
	go func() {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			out <- ReadResult{Err: err}
			return
		}
		defer r.sem.Release(1)
		data, err := r.p.ReadNode(off)
		out <- ReadResult{Data: data, Err: err}
	}()
	return out
}

// Read is the blocking form used by foreground read-only handles (spec
// §4.2: "no I/O on foreground threads except read-only blocking mode").
func (r *Ring) Read(ctx context.Context, off voffset.ChunkOffset) ([]byte, error) {
	res := <-r.SubmitRead(ctx, off)
	return res.Data, res.Err
}

// Poll reports whether res already has a value ready, without blocking.
func Poll(res <-chan ReadResult) (ReadResult, bool) {
	select {
	case v := <-res:
		return v, true
	default:
		return ReadResult{}, false
	}
}

// Write performs a direct write through the ring's pool. Only valid on a
// read-write Ring.
func (r *Ring) Write(chunkID uint32, offsetInChunk int64, data []byte) error {
	return r.p.WriteChunk(chunkID, offsetInChunk, data)
}

// ReadOnly reports whether this ring was built over a read-only pool clone.
func (r *Ring) ReadOnly() bool { return r.readOnly }

// Prefetch reads every valid offset in offs concurrently, fanning the
// requests out across an errgroup bounded by the ring's own semaphore, and
// returns one slot per input offset (nil for an invalid offset). Used by
// Traverse to read a node's several children in parallel instead of one
// blocking pread at a time (spec §4.2's "multiple outstanding I/Os
// multiplexed" applied to the read-only foreground path).
func (r *Ring) Prefetch(ctx context.Context, offs []voffset.ChunkOffset) ([][]byte, error) {
	results := make([][]byte, len(offs))
	g, gctx := errgroup.WithContext(ctx)
	for i, off := range offs {
		if !off.IsValid() {
			continue
		}
		i, off := i, off
		g.Go(func() error {
			data, err := r.Read(gctx, off)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
