// Package writer implements the single writer thread and request queue of
// spec §4.6 (C8): one goroutine owns every C1-C5 handle plus the update
// engine and compactor, and every mutation (and most reads) is funneled
// through it so no data race can occur across Find/Upsert/CopyTrie/
// Traverse/MoveTrieVersion/LoadRootVersion/FindOwning.
//
// The original hosts this on a dedicated OS thread running a fiber
// scheduler, parking on a condvar with a 1-second wait_for to tolerate
// wakeups the fiber scheduler's signalling occasionally misses. A Go
// goroutine blocking on a channel receive has no equivalent missed-wakeup
// hazard (the channel send always unblocks a receiver, even one that
// arrived first), so the request queue is a plain buffered channel and the
// "idle park" is simply the blocking range over it — grounded on the
// teacher's (iotaledger/trie.go) hive_adaptor.HiveBatchedUpdater, which
// applies the same "single owner drains a queue of buffered mutations"
// shape to its own batch-commit loop. Cold-child loads go through
// internal/asyncio's ring rather than a direct pool read; each load is a
// single blocking read, so the writer goroutine has at most one read
// outstanding and serves queued requests strictly one after another.
package writer

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/iotaledger/mpt/internal/asyncio"
	"github.com/iotaledger/mpt/internal/compact"
	"github.com/iotaledger/mpt/internal/errs"
	"github.com/iotaledger/mpt/internal/meta"
	"github.com/iotaledger/mpt/internal/nibble"
	"github.com/iotaledger/mpt/internal/node"
	"github.com/iotaledger/mpt/internal/pool"
	"github.com/iotaledger/mpt/internal/statemachine"
	"github.com/iotaledger/mpt/internal/update"
	"github.com/iotaledger/mpt/internal/voffset"
)

// maxInFlightReads is the concurrency bound of the writer's asyncio ring.
// poolLoader issues one blocking read at a time, so in practice no more
// than one cold-child load is in flight.
const maxInFlightReads = 32

// decodedNodeCacheSize bounds the writer's cache of recently decoded cold
// nodes, keyed by their on-disk offset. Distinct from meta.PinnedCache: this
// one is a plain recency-based cache with no pinning, sized for hot re-reads
// of the same cold nodes across successive Upsert/Find/Traverse calls.
const decodedNodeCacheSize = 4096

// poolLoader resolves a cold (Fnext-only) child by submitting a read
// through the async I/O ring and blocking on its completion, implementing
// both update.Loader and compact.Loader. Decoded nodes are kept in a
// recency-bounded cache so a hot cold-node is decoded once, not once per
// reference.
type poolLoader struct {
	ring  *asyncio.Ring
	cache *lru.Cache
}

func newPoolLoader(ring *asyncio.Ring) *poolLoader {
	cache, err := lru.New(decodedNodeCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// decodedNodeCacheSize never is.
		panic(err)
	}
	return &poolLoader{ring: ring, cache: cache}
}

func (l *poolLoader) Load(off voffset.ChunkOffset) (*node.Node, error) {
	if !off.IsValid() {
		return nil, nil
	}
	if v, ok := l.cache.Get(off); ok {
		return v.(*node.Node), nil
	}
	raw, err := l.ring.Read(context.Background(), off)
	if err != nil {
		return nil, err
	}
	n, err := node.Decode(raw)
	if err != nil {
		return nil, err
	}
	l.cache.Add(off, n)
	return n, nil
}

// listsAllocator implements compact.Allocator over the metadata chunk
// lists and the storage pool.
type listsAllocator struct {
	lists *meta.Lists
	p     *pool.Pool
}

func (a *listsAllocator) Allocate(list voffset.List) (uint32, uint64, error) {
	dest := meta.ListSlow
	if list == voffset.ListFast {
		dest = meta.ListFast
	}
	return a.lists.Allocate(dest)
}

func (a *listsAllocator) Write(chunkID uint32, offsetInChunk int64, data []byte) error {
	return a.p.WriteChunk(chunkID, offsetInChunk, data)
}

func (a *listsAllocator) PageSize() int { return a.p.PageSize() }

// flushNode writes n's not-yet-flushed descendants bottom-up and then n
// itself into a fresh chunk, implementing spec §4.3 step 5/6's write-through
// ("as each child node is finalised, it is handed to the writer buffer...
// remaining buffered bytes are zero-padded and flushed"). A child is
// considered already flushed (and left untouched) when its Fnext is valid:
// copy-on-write cloning (internal/update's cloneNode) preserves Fnext
// byte-for-byte for every child an Upsert batch did not touch, so this walk
// only ever does physical work for nodes actually created or modified by
// the current batch (or left dangling by compaction's copy-forward rewrite,
// which already assigns a valid Fnext itself and so is also skipped here).
func (w *Writer) flushNode(n *node.Node) (voffset.ChunkOffset, voffset.List, uint64, error) {
	for i := range n.Children {
		c := &n.Children[i]
		if c.Fnext.IsValid() || c.Next == nil {
			continue
		}
		if w.sm != nil {
			w.sm.Down(n.BranchAt(i))
		}
		childOff, list, age, err := w.flushNode(c.Next)
		if w.sm != nil {
			w.sm.Up(1)
		}
		if err != nil {
			return voffset.Invalid, 0, 0, err
		}
		c.Fnext = childOff
		fast, slow, minVersion := c.Next.MinOffsets(voffset.Virtual{Phys: childOff, List: list, Age: age})
		c.MinOffsetFast, c.MinOffsetSlow, c.SubtrieMinVersion = fast, slow, minVersion
		// Cache (spec §6.2 Cache()) decides whether the just-flushed child
		// stays resident in memory or is dropped now that it is durable on
		// disk (reloadable on demand through Fnext/poolLoader); a false
		// answer trades a future cold-load for a smaller resident tree.
		if w.sm != nil && !w.sm.Cache() {
			c.Next = nil
		}
	}
	return compact.Flush(w.alloc, n, true)
}

// flushRoot flushes an entire new root tree and returns its physical
// offset, or voffset.Invalid for an empty trie.
func (w *Writer) flushRoot(n *node.Node) (voffset.ChunkOffset, error) {
	if n == nil {
		return voffset.Invalid, nil
	}
	off, _, _, err := w.flushNode(n)
	return off, err
}

// UpsertOptions mirrors the Upsert request's flags (spec §4.6's request
// table): enable_compaction, can_write_to_fast, write_root.
type UpsertOptions struct {
	EnableCompaction bool
	CanWriteToFast   bool
	// WriteRoot, when false, discards the candidate root instead of
	// advancing the version-history ring (spec §9 open question, resolved
	// in DESIGN.md: the writer logs a warning and drops the candidate
	// rather than retaining it for a later write).
	WriteRoot bool
}

// Options configures Open.
type Options struct {
	Pool    *pool.Pool
	Header  *meta.Header
	Cursors meta.Cursors
	SM      statemachine.StateMachine
	// CacheSize bounds the FindOwning pinned-node cache (spec §5).
	CacheSize int
	// Log receives the writer's lifecycle diagnostics (discarded candidate
	// roots, rewinds, version moves). Defaults to slog.Default().
	Log *slog.Logger
}

// Writer is the single-goroutine owner of the trie's mutable state. Every
// exported method submits a closure onto an internal request channel and
// blocks for its result, guaranteeing requests observe a consistent,
// serialized view regardless of caller goroutine.
type Writer struct {
	p       *pool.Pool
	header  *meta.Header
	cursors meta.Cursors
	sm      statemachine.StateMachine
	log     *slog.Logger

	loader *poolLoader
	alloc  *listsAllocator
	engine *update.Engine
	cache  *meta.PinnedCache

	frontiers compact.Frontiers

	// roots holds the resident root node for every version still within
	// the ring's valid range. Entries outside that range are evicted
	// opportunistically whenever the ring's earliest_valid_version moves.
	roots map[int64]*node.Node

	// pendingFrees holds chunks compaction has superseded with a
	// copy-forward rewrite or expiry prune, tagged with the version that
	// superseded them. A chunk is only handed back to the free list once
	// every version older than the one that vacated it has itself left the
	// ring (evictBelow): an older, still-valid version's on-disk root may
	// still reference the chunk by its original physical offset, so freeing
	// it any earlier would hand that offset to a future allocation while a
	// live reader could still reach it (spec §3.6, §8 property 6).
	pendingFrees []pendingFree

	reqs      chan func()
	closeOnce sync.Once
	closed    chan struct{}
}

// pendingFree is one chunk awaiting reclamation once version rolls out of
// the history ring.
type pendingFree struct {
	chunkID uint32
	version int64
}

// Open starts the writer goroutine.
func Open(opts Options) *Writer {
	loader := newPoolLoader(asyncio.NewRing(opts.Pool, maxInFlightReads, false))
	alloc := &listsAllocator{lists: opts.Header.Lists, p: opts.Pool}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{
		p:       opts.Pool,
		header:  opts.Header,
		cursors: opts.Cursors,
		sm:      opts.SM,
		log:     log,
		loader:  loader,
		alloc:   alloc,
		engine:  update.New(loader, opts.SM),
		cache:   meta.NewPinnedCache(cacheSize),
		roots:   make(map[int64]*node.Node),
		reqs:    make(chan func(), 64),
		closed:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	for cmd := range w.reqs {
		cmd()
	}
	close(w.closed)
}

// Close drains and stops the writer goroutine.
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.reqs) })
	<-w.closed
}

func (w *Writer) submit(fn func()) {
	done := make(chan struct{})
	w.reqs <- func() { fn(); close(done) }
	<-done
}

// SetFrontiers updates the compaction/auto-expiration frontiers consulted
// by subsequent Upsert calls with EnableCompaction set.
func (w *Writer) SetFrontiers(f compact.Frontiers) {
	w.submit(func() { w.frontiers = f })
}

// Snapshot returns the current header and write cursors for persistence,
// read under the writer goroutine so it cannot race a concurrent Upsert
// (spec §3.4's header durability).
func (w *Writer) Snapshot() (*meta.Header, meta.Cursors) {
	type result struct {
		header  *meta.Header
		cursors meta.Cursors
	}
	resCh := make(chan result, 1)
	w.submit(func() { resCh <- result{w.header, w.cursors} })
	r := <-resCh
	return r.header, r.cursors
}

func (w *Writer) resolveChild(c node.Child) (*node.Node, error) {
	if c.Next != nil {
		return c.Next, nil
	}
	if !c.Fnext.IsValid() {
		return nil, nil
	}
	return w.loader.Load(c.Fnext)
}

// descend walks n following key, loading cold children as needed, and
// returns the node living exactly at key (nil if absent).
func (w *Writer) descend(n *node.Node, key nibble.View) (*node.Node, error) {
	for {
		if n == nil {
			return nil, nil
		}
		common := nibble.CommonPrefixLen(n.Path, key)
		if common != n.Path.Len() {
			return nil, nil
		}
		key = key.Skip(common)
		if key.Len() == 0 {
			return n, nil
		}
		pos, ok := n.ChildPosition(key.At(0))
		if !ok {
			return nil, nil
		}
		child, err := w.resolveChild(n.Children[pos])
		if err != nil {
			return nil, err
		}
		n = child
		key = key.Skip(1)
	}
}

// resolveRoot returns the resident root for version, loading it from the
// pool via the ring's persisted offset and caching it on first use (e.g.
// just after reopening an existing database, when w.roots starts empty but
// the header's version ring already names durable roots).
func (w *Writer) resolveRoot(version int64) (*node.Node, error) {
	if root, ok := w.roots[version]; ok {
		return root, nil
	}
	if !w.header.Ring.InRange(version) {
		return nil, errs.ErrVersionNoLongerExist
	}
	off, err := w.header.Ring.Get(version)
	if err != nil {
		return nil, err
	}
	if !off.IsValid() {
		w.roots[version] = nil
		return nil, nil
	}
	root, err := w.loader.Load(off)
	if err != nil {
		return nil, err
	}
	w.roots[version] = root
	return root, nil
}

func (w *Writer) evictBelow(earliest int64) {
	for v := range w.roots {
		if v < earliest {
			delete(w.roots, v)
			w.cache.Evict(v)
		}
	}

	kept := w.pendingFrees[:0]
	for _, pf := range w.pendingFrees {
		if pf.version <= earliest {
			w.header.Lists.Free(pf.chunkID)
		} else {
			kept = append(kept, pf)
		}
	}
	w.pendingFrees = kept
}

// Upsert applies a batch of updates on top of the latest committed root,
// optionally compacting the result, and (when WriteRoot is set) advances
// the version-history ring to a new version holding the new root (spec
// §4.3/§4.6).
func (w *Writer) Upsert(updates update.UpdateList, version int64, opts UpsertOptions) (*node.Node, error) {
	type result struct {
		n   *node.Node
		err error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		prevVersion := w.header.Ring.LatestVersion()
		var prevRoot *node.Node
		prevOffset := voffset.Invalid
		if prevVersion >= 0 {
			root, rerr := w.resolveRoot(prevVersion)
			if rerr != nil {
				resCh <- result{nil, rerr}
				return
			}
			prevRoot = root
			if off, perr := w.header.Ring.Get(prevVersion); perr == nil {
				prevOffset = off
			}
		}

		newRoot, err := w.engine.Upsert(prevRoot, updates, version)
		if err != nil {
			resCh <- result{nil, err}
			return
		}

		var vacated []uint32
		if opts.EnableCompaction && newRoot != nil {
			c := compact.New(w.loader, w.alloc, w.frontiers)
			c.SM = w.sm
			newRoot, err = c.Apply(newRoot)
			if err != nil {
				resCh <- result{nil, err}
				return
			}
			vacated = c.Vacated
		}

		if !opts.WriteRoot {
			w.log.Warn("upsert: discarding unflushed candidate root", "version", version)
			resCh <- result{newRoot, nil}
			return
		}

		// Write-through (spec §4.3 step 5/6): every node this batch actually
		// touched is handed to fresh chunks now; a root unchanged by an
		// empty/no-op batch reuses its previous physical offset instead of
		// being rewritten.
		var rootOffset voffset.ChunkOffset
		switch {
		case newRoot == nil:
			rootOffset = voffset.Invalid
		case newRoot == prevRoot && prevOffset.IsValid():
			rootOffset = prevOffset
		default:
			rootOffset, err = w.flushRoot(newRoot)
			if err != nil {
				resCh <- result{nil, err}
				return
			}
		}

		appended := w.header.Ring.AppendRootOffset(rootOffset, w.cursors.Fast, w.cursors.Slow)
		w.roots[appended] = newRoot
		for _, chunkID := range vacated {
			w.pendingFrees = append(w.pendingFrees, pendingFree{chunkID: chunkID, version: appended})
		}
		w.evictBelow(w.header.Ring.EarliestValidVersion())
		resCh <- result{newRoot, nil}
	})
	r := <-resCh
	return r.n, r.err
}

// Find looks up key against the root resident at version (spec §4.6's
// Find request).
func (w *Writer) Find(version int64, key nibble.View) ([]byte, bool, error) {
	type result struct {
		value []byte
		found bool
		err   error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		root, err := w.resolveRoot(version)
		if err != nil {
			resCh <- result{nil, false, err}
			return
		}
		n, err := w.descend(root, key)
		if err != nil {
			resCh <- result{nil, false, err}
			return
		}
		if n == nil || !n.HasValue {
			resCh <- result{nil, false, nil}
			return
		}
		resCh <- result{n.Value, true, nil}
	})
	r := <-resCh
	return r.value, r.found, r.err
}

// GetCommitment returns the commitment/hash (node.Node.Data) stored at key
// within version's trie, without exposing the value bytes.
func (w *Writer) GetCommitment(version int64, key nibble.View) ([]byte, bool, error) {
	type result struct {
		data  []byte
		found bool
		err   error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		root, err := w.resolveRoot(version)
		if err != nil {
			resCh <- result{nil, false, err}
			return
		}
		n, err := w.descend(root, key)
		if err != nil {
			resCh <- result{nil, false, err}
			return
		}
		if n == nil {
			resCh <- result{nil, false, nil}
			return
		}
		resCh <- result{n.Data, true, nil}
	})
	r := <-resCh
	return r.data, r.found, r.err
}

// CommitRoot registers root as the next version in the history ring,
// without running it through Upsert/compaction first. Used by callers that
// already produced a root via CopyTrie and now want it queryable.
func (w *Writer) CommitRoot(root *node.Node) (int64, error) {
	type result struct {
		version int64
		err     error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		// Only nodes on the path to the new content need a fresh chunk;
		// flushRoot skips every already-on-disk descendant (Fnext already
		// valid), so of a grafted subtrie only its re-pathed top node is
		// written again and the nodes below it keep their offsets.
		rootOffset, err := w.flushRoot(root)
		if err != nil {
			resCh <- result{0, err}
			return
		}
		appended := w.header.Ring.AppendRootOffset(rootOffset, w.cursors.Fast, w.cursors.Slow)
		w.roots[appended] = root
		w.evictBelow(w.header.Ring.EarliestValidVersion())
		resCh <- result{appended, nil}
	})
	r := <-resCh
	return r.version, r.err
}

// Stats reports current chunk-list occupancy and version-history range
// (spec §9 supplemental: Database.Stats(), grounded in original_source's
// category/mpt/db.cpp diagnostics).
type Stats struct {
	FreeChunks            uint32
	FastChunks            uint32
	SlowChunks            uint32
	LatestVersion         int64
	EarliestValidVersion  int64
	LatestFinalizedVersion int64
}

// Stats returns a point-in-time snapshot of chunk and version bookkeeping.
func (w *Writer) Stats() Stats {
	resCh := make(chan Stats, 1)
	w.submit(func() {
		resCh <- Stats{
			FreeChunks:             w.header.Lists.Count(meta.ListFree),
			FastChunks:             w.header.Lists.Count(meta.ListFast),
			SlowChunks:             w.header.Lists.Count(meta.ListSlow),
			LatestVersion:          w.header.Ring.LatestVersion(),
			EarliestValidVersion:   w.header.Ring.EarliestValidVersion(),
			LatestFinalizedVersion: w.header.Ring.LatestFinalized(),
		}
	})
	return <-resCh
}

// SetLatestFinalized/Verified/Voted update the ring's consensus bookkeeping
// under the writer goroutine, avoiding a race with concurrent Upsert calls.
func (w *Writer) SetLatestFinalized(v int64) { w.submit(func() { w.header.Ring.SetLatestFinalized(v) }) }
func (w *Writer) SetLatestVerified(v int64)  { w.submit(func() { w.header.Ring.SetLatestVerified(v) }) }
func (w *Writer) SetLatestVoted(v int64, blockID [32]byte) {
	w.submit(func() { w.header.Ring.SetLatestVoted(v, blockID) })
}

// RewindToLatestFinalized discards every version newer than the latest
// finalized one (spec §9 supplemental, grounded in original_source's
// libs/db/src/monad/mpt/trie.cpp rollback-on-fork-switch path).
func (w *Writer) RewindToLatestFinalized() error {
	errCh := make(chan error, 1)
	w.submit(func() {
		target := w.header.Ring.LatestFinalized()
		if target < 0 {
			errCh <- errs.Wrap(errs.ErrInvalidInput, "writer: no finalized version to rewind to")
			return
		}
		_, _, err := w.header.Ring.RewindToVersion(target)
		if err != nil {
			errCh <- err
			return
		}
		w.log.Info("rewound to latest finalized version", "target", target)
		w.evictBelow(w.header.Ring.EarliestValidVersion())
		for v := range w.roots {
			if v > target {
				delete(w.roots, v)
			}
		}
		errCh <- nil
	})
	return <-errCh
}

// LoadRootVersion returns the resident root for version.
func (w *Writer) LoadRootVersion(version int64) (*node.Node, error) {
	type result struct {
		n   *node.Node
		err error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		root, err := w.resolveRoot(version)
		if err != nil {
			resCh <- result{nil, err}
			return
		}
		resCh <- result{root, nil}
	})
	r := <-resCh
	return r.n, r.err
}

// CopyTrie duplicates the subtrie at srcPath within srcRoot onto destPath
// within destRoot at destVersion (spec §4.6). The subtrie's top node is
// copied under destPath's path and stamped with destVersion; the nodes
// below it are shared, not copied.
func (w *Writer) CopyTrie(srcRoot *node.Node, srcPath nibble.View, destRoot *node.Node, destPath nibble.View, destVersion int64) (*node.Node, error) {
	type result struct {
		n   *node.Node
		err error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		subtree, err := w.descend(srcRoot, srcPath)
		if err != nil {
			resCh <- result{nil, err}
			return
		}
		if subtree == nil {
			resCh <- result{nil, errs.ErrKeyNotFound}
			return
		}
		newRoot, err := w.engine.Upsert(destRoot, update.UpdateList{{Key: destPath, Graft: subtree}}, destVersion)
		resCh <- result{newRoot, err}
	})
	r := <-resCh
	return r.n, r.err
}

// Traverse visits every (key, value) pair reachable from version's root in
// nibble order, calling visitor until it returns false or the walk
// completes. It returns false if version was evicted mid-traverse (spec
// §4.6's Traverse request).
func (w *Writer) Traverse(version int64, visitor func(key []byte, value []byte) bool) (bool, error) {
	type result struct {
		ok  bool
		err error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		root, err := w.resolveRoot(version)
		if err != nil {
			resCh <- result{false, err}
			return
		}

		var walk func(n *node.Node, prefix nibble.View) (bool, error)
		walk = func(n *node.Node, prefix nibble.View) (bool, error) {
			if n == nil {
				return true, nil
			}
			if !w.header.Ring.InRange(version) {
				return false, nil
			}
			full := nibble.ConcatView(prefix, n.Path)
			if n.HasValue {
				if !visitor(full.Pack(), n.Value) {
					return false, nil
				}
			}
			for b := byte(0); b < 16; b++ {
				pos, has := n.ChildPosition(b)
				if !has {
					continue
				}
				child, err := w.resolveChild(n.Children[pos])
				if err != nil {
					return false, err
				}
				branchPath := nibble.Concat(b, nibble.Empty())
				cont, err := walk(child, nibble.ConcatView(full, branchPath))
				if err != nil {
					return false, err
				}
				if !cont {
					return false, nil
				}
			}
			return true, nil
		}

		cont, err := walk(root, nibble.Empty())
		if err != nil {
			resCh <- result{false, err}
			return
		}
		resCh <- result{cont, nil}
	})
	r := <-resCh
	return r.ok, r.err
}

// MoveTrieVersion re-labels the root at src to dst (spec §4.5/§4.6).
func (w *Writer) MoveTrieVersion(src, dst int64) error {
	errCh := make(chan error, 1)
	w.submit(func() {
		if err := w.header.Ring.MoveTrieVersionForward(src, dst); err != nil {
			errCh <- err
			return
		}
		if dst > src+1 {
			w.log.Info("move_trie_version_forward left a gap", "src", src, "dst", dst)
		}
		if root, ok := w.roots[src]; ok {
			for v := src + 1; v < dst; v++ {
				delete(w.roots, v)
			}
			w.roots[dst] = root
		}
		errCh <- nil
	})
	return <-errCh
}

// FindOwning looks up key at version and returns a reference-counted node
// the caller may retain past a concurrent eviction of version, along with a
// release function that must be called exactly once (spec §4.6's FindOwning
// request, read-only path).
func (w *Writer) FindOwning(version int64, key nibble.View) (n *node.Node, release func(), found bool, err error) {
	type result struct {
		n       *node.Node
		release func()
		found   bool
		err     error
	}
	resCh := make(chan result, 1)
	w.submit(func() {
		root, rerr := w.resolveRoot(version)
		if rerr != nil {
			resCh <- result{nil, func() {}, false, rerr}
			return
		}
		target, derr := w.descend(root, key)
		if derr != nil {
			resCh <- result{nil, func() {}, false, derr}
			return
		}
		if target == nil {
			resCh <- result{nil, func() {}, false, nil}
			return
		}
		w.cache.Put(version, root)
		w.cache.Pin(version)
		rel := func() { w.cache.Unpin(version) }
		resCh <- result{target, rel, true, nil}
	})
	r := <-resCh
	return r.n, r.release, r.found, r.err
}
