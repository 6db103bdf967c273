package mpt

import (
	"github.com/iotaledger/mpt/internal/compact"
	"github.com/iotaledger/mpt/internal/errs"
	"github.com/iotaledger/mpt/internal/meta"
	"github.com/iotaledger/mpt/internal/nibble"
	"github.com/iotaledger/mpt/internal/node"
	"github.com/iotaledger/mpt/internal/pool"
	"github.com/iotaledger/mpt/internal/update"
	"github.com/iotaledger/mpt/internal/writer"
)

// Re-exported error taxonomy (spec §6.3), so callers never need to import
// internal/errs directly.
var (
	ErrKeyNotFound            = errs.ErrKeyNotFound
	ErrVersionNoLongerExist   = errs.ErrVersionNoLongerExist
	ErrWriteAmplificationFull = errs.ErrWriteAmplificationFull
	ErrInvalidInput           = errs.ErrInvalidInput
)

// KV is one key/value change in a Database.Upsert batch. Incarnation
// discards any existing subtrie rooted at Key (value and every descendant)
// before applying Value, Delete, and any other batch entries keyed under
// Key as a prefix — used for EVM address re-creation (spec §3.5).
type KV struct {
	Key         []byte
	Value       []byte
	Delete      bool
	Incarnation bool
}

// UpsertOptions mirrors writer.UpsertOptions at the facade boundary.
type UpsertOptions = writer.UpsertOptions

// Stats mirrors writer.Stats at the facade boundary.
type Stats = writer.Stats

// Frontiers mirrors compact.Frontiers at the facade boundary.
type Frontiers = compact.Frontiers

// Database is the mutating handle onto the trie storage engine: a chunked
// direct-I/O pool fronted by a single writer goroutine (spec §4.7, C9).
//
// Grounded on the teacher's (iotaledger/trie.go) trie.Trie: a cached handle
// that serializes all mutation through one owner, generalized here from an
// in-process buffered node cache to a dedicated writer goroutine fronting
// physical chunked storage.
type Database struct {
	p *pool.Pool
	w *writer.Writer
}

// Open creates or reopens a Database per opts.
func Open(opts Options) (*Database, error) {
	opts = opts.withDefaults()

	p, err := pool.Open(opts.poolOptions())
	if err != nil {
		return nil, err
	}

	header, cursors, err := loadOrInitHeader(p, opts)
	if err != nil {
		p.Close()
		return nil, err
	}

	w := writer.Open(writer.Options{
		Pool:      p,
		Header:    header,
		Cursors:   cursors,
		SM:        opts.stateMachine(),
		CacheSize: opts.CacheSize,
		Log:       opts.Log,
	})

	return &Database{p: p, w: w}, nil
}

func loadOrInitHeader(p *pool.Pool, opts Options) (*meta.Header, meta.Cursors, error) {
	if opts.OpenExisting {
		raw, err := p.ReadRaw(meta.HeaderChunkID, 0, p.ChunkSize())
		if err != nil {
			return nil, meta.Cursors{}, err
		}
		return meta.Decode(raw)
	}
	return meta.New(p.NumChunks(), opts.HistoryLength), meta.Cursors{}, nil
}

// Close persists the header chunk and releases the backing pool. The
// header is snapshotted from the writer goroutine before it is stopped, so
// no concurrent mutation races the write.
func (db *Database) Close() error {
	header, cursors := db.w.Snapshot()
	raw, err := meta.Encode(header, cursors)
	if err != nil {
		db.w.Close()
		db.p.Close()
		return err
	}
	// Zero-pad to whole pages: the pool's files may be opened O_DIRECT.
	if rem := len(raw) % db.p.PageSize(); rem != 0 {
		raw = append(raw, make([]byte, db.p.PageSize()-rem)...)
	}
	if err := db.p.WriteChunk(meta.HeaderChunkID, 0, raw); err != nil {
		db.w.Close()
		db.p.Close()
		return err
	}

	db.w.Close()
	return db.p.Close()
}

// Upsert applies a batch of key/value changes on top of the latest
// committed version and, when opts.WriteRoot is set, commits the result as
// the next version of the history ring (latest committed version + 1).
// version stamps the nodes the batch touches; it does not select the ring
// slot, and an already-committed version is never rewritten in place
// (spec §4.3/§4.6).
func (db *Database) Upsert(kvs []KV, version int64, opts UpsertOptions) error {
	ups := make(update.UpdateList, len(kvs))
	for i, kv := range kvs {
		ups[i] = update.Update{Key: nibble.Of(kv.Key), Value: kv.Value, Delete: kv.Delete, Incarnation: kv.Incarnation}
	}
	_, err := db.w.Upsert(ups, version, opts)
	return err
}

// Get returns the value stored for key within version's trie.
func (db *Database) Get(version int64, key []byte) ([]byte, bool, error) {
	return db.w.Find(version, nibble.Of(key))
}

// GetCommitment returns the node commitment (hash) stored at key within
// version's trie, without the value bytes (spec §4.6's GetCommitment/
// verification path).
func (db *Database) GetCommitment(version int64, key []byte) ([]byte, bool, error) {
	return db.w.GetCommitment(version, nibble.Of(key))
}

// Traverse visits every (key, value) pair reachable from version's root in
// nibble order, stopping early if visitor returns false. The bool result is
// false if version was evicted mid-traversal.
func (db *Database) Traverse(version int64, visitor func(key, value []byte) bool) (bool, error) {
	return db.w.Traverse(version, visitor)
}

// CopyTrie duplicates the subtrie rooted at srcKey within srcVersion onto
// destKey, building on destVersion's root (or on an empty trie when
// destVersion is not in the ring), and commits the result at once as the
// next version of the history ring (latest committed version + 1),
// whatever destVersion is. The copied subtrie's top node is re-created
// under destKey's path and written afresh; the nodes below it keep their
// existing on-disk offsets and are not rewritten (spec §4.6).
func (db *Database) CopyTrie(srcVersion int64, srcKey []byte, destVersion int64, destKey []byte) error {
	srcRoot, err := db.w.LoadRootVersion(srcVersion)
	if err != nil {
		return err
	}
	var destRoot *node.Node
	if r, err := db.w.LoadRootVersion(destVersion); err == nil {
		destRoot = r
	}
	newRoot, err := db.w.CopyTrie(srcRoot, nibble.Of(srcKey), destRoot, nibble.Of(destKey), destVersion)
	if err != nil {
		return err
	}
	_, err = db.w.CommitRoot(newRoot)
	return err
}

// MoveTrieVersionForward re-labels the root committed at src to dst (dst >
// src), gap-invalidating every version strictly between them (spec §4.5).
func (db *Database) MoveTrieVersionForward(src, dst int64) error {
	return db.w.MoveTrieVersion(src, dst)
}

// SetLatestFinalized/Verified/Voted record consensus bookkeeping alongside
// the version-history ring (spec §4.5).
func (db *Database) SetLatestFinalized(v int64)              { db.w.SetLatestFinalized(v) }
func (db *Database) SetLatestVerified(v int64)                { db.w.SetLatestVerified(v) }
func (db *Database) SetLatestVoted(v int64, blockID [32]byte) { db.w.SetLatestVoted(v, blockID) }

// SetFrontiers advances the compaction/auto-expiration cutoffs the writer
// goroutine consults on every subsequent Upsert (spec §4.4). Callers
// typically derive these from Stats() — e.g. pushing CompactOffsetFast/Slow
// forward as chunks accumulate, and AutoExpireVersion forward as
// SetLatestFinalized advances — to keep compaction and auto-expiration
// running continuously rather than as a one-shot pass.
func (db *Database) SetFrontiers(f Frontiers) {
	db.w.SetFrontiers(f)
}

// RewindToLatestFinalized discards every version newer than the latest
// finalized one, as on a consensus fork switch (spec §9 supplemental).
func (db *Database) RewindToLatestFinalized() error {
	return db.w.RewindToLatestFinalized()
}

// Stats reports current chunk-list occupancy and version-history range.
func (db *Database) Stats() Stats {
	return db.w.Stats()
}

// Cursor returns a pinned, reference-counted handle onto the node living at
// key within version's trie. The caller must call Release exactly once
// (spec §4.6's FindOwning request).
func (db *Database) Cursor(version int64, key []byte) (*NodeCursor, error) {
	n, release, found, err := db.w.FindOwning(version, nibble.Of(key))
	if err != nil {
		return nil, err
	}
	if !found {
		release()
		return nil, errs.ErrKeyNotFound
	}
	return &NodeCursor{n: n, release: release}, nil
}

// NodeCursor is a pinned reference onto a single resident node, surviving a
// concurrent writer eviction of the version it was read from until Release
// is called (spec §4.6, grounded on internal/meta.PinnedCache).
type NodeCursor struct {
	n       *node.Node
	release func()
}

// Value returns the node's stored value, if any.
func (c *NodeCursor) Value() ([]byte, bool) { return c.n.Value, c.n.HasValue }

// Commitment returns the node's commitment (hash).
func (c *NodeCursor) Commitment() []byte { return c.n.Data }

// Release unpins the underlying node. Must be called exactly once.
func (c *NodeCursor) Release() { c.release() }
