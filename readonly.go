package mpt

import (
	"context"

	"github.com/iotaledger/mpt/internal/asyncio"
	"github.com/iotaledger/mpt/internal/meta"
	"github.com/iotaledger/mpt/internal/nibble"
	"github.com/iotaledger/mpt/internal/node"
	"github.com/iotaledger/mpt/internal/pool"
	"github.com/iotaledger/mpt/internal/voffset"
)

// maxInFlightReadOnlyReads bounds the read-only handle's concurrent
// in-flight direct-I/O reads (spec §4.2).
const maxInFlightReadOnlyReads = 32

// ReadOnlyDatabase is a foreground-blocking read handle opened against the
// same backing files as a Database, using its own O_RDONLY pool clone that
// never locks out the writer (spec §4.1/§4.2: "foreground threads may
// execute blocking read-only reads using a read-only clone of the pool, no
// mutation state is touched").
//
// Unlike Database, ReadOnlyDatabase does not route through a writer
// goroutine: every call blocks the calling goroutine directly on the
// read-only pool clone, matching the source's own foreground-thread
// blocking-read path rather than its writer-thread fiber scheduler.
type ReadOnlyDatabase struct {
	p      *pool.Pool
	ring   *asyncio.Ring
	header *meta.Header
}

// OpenReadOnly opens a read-only clone of an existing Database's backing
// files. opts.OpenExisting is implied.
func OpenReadOnly(opts Options) (*ReadOnlyDatabase, error) {
	opts = opts.withDefaults()

	p, err := pool.OpenReadOnly(opts.poolOptions())
	if err != nil {
		return nil, err
	}

	raw, err := p.ReadRaw(meta.HeaderChunkID, 0, p.ChunkSize())
	if err != nil {
		p.Close()
		return nil, err
	}
	header, _, err := meta.Decode(raw)
	if err != nil {
		p.Close()
		return nil, err
	}

	ring := asyncio.NewRing(p, maxInFlightReadOnlyReads, true)
	return &ReadOnlyDatabase{p: p, ring: ring, header: header}, nil
}

// Close releases the read-only pool clone.
func (db *ReadOnlyDatabase) Close() error { return db.p.Close() }

func (db *ReadOnlyDatabase) loadRoot(version int64) (*node.Node, error) {
	off, err := db.header.Ring.Get(version)
	if err != nil {
		return nil, err
	}
	if !off.IsValid() {
		return nil, nil
	}
	return db.loadNode(off)
}

func (db *ReadOnlyDatabase) loadNode(off voffset.ChunkOffset) (*node.Node, error) {
	raw, err := db.ring.Read(context.Background(), off)
	if err != nil {
		return nil, err
	}
	return node.Decode(raw)
}

func (db *ReadOnlyDatabase) descend(n *node.Node, key nibble.View) (*node.Node, error) {
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
		child := n.Children[pos]
		key = key.Skip(1)
		if child.Next != nil {
			n = child.Next
			continue
		}
		if !child.Fnext.IsValid() {
			return nil, nil
		}
		loaded, err := db.loadNode(child.Fnext)
		if err != nil {
			return nil, err
		}
		n = loaded
	}
}

// Get returns the value stored for key within version's trie, reading
// every node fresh off the pool clone rather than consulting any
// writer-side cache (spec §4.2). Versions are resolved against the ring
// decoded from the header when OpenReadOnly ran; versions committed or
// evicted after that are not seen.
func (db *ReadOnlyDatabase) Get(version int64, key []byte) ([]byte, bool, error) {
	root, err := db.loadRoot(version)
	if err != nil {
		return nil, false, err
	}
	n, err := db.descend(root, nibble.Of(key))
	if err != nil {
		return nil, false, err
	}
	if n == nil || !n.HasValue {
		return nil, false, nil
	}
	return n.Value, true, nil
}

// GetCommitment returns the node commitment stored at key within version's
// trie.
func (db *ReadOnlyDatabase) GetCommitment(version int64, key []byte) ([]byte, bool, error) {
	root, err := db.loadRoot(version)
	if err != nil {
		return nil, false, err
	}
	n, err := db.descend(root, nibble.Of(key))
	if err != nil {
		return nil, false, err
	}
	if n == nil {
		return nil, false, nil
	}
	return n.Data, true, nil
}

// Traverse visits every (key, value) pair reachable from version's root in
// nibble order, stopping early if visitor returns false. Every node's cold
// (on-disk) children are fetched in one concurrent round via the ring's
// Prefetch rather than one blocking read per child.
func (db *ReadOnlyDatabase) Traverse(version int64, visitor func(key, value []byte) bool) error {
	root, err := db.loadRoot(version)
	if err != nil {
		return err
	}

	var walk func(n *node.Node, prefix nibble.View) (bool, error)
	walk = func(n *node.Node, prefix nibble.View) (bool, error) {
		if n == nil {
			return true, nil
		}
		full := nibble.ConcatView(prefix, n.Path)
		if n.HasValue {
			if !visitor(full.Pack(), n.Value) {
				return false, nil
			}
		}

		branches := make([]byte, 0, len(n.Children))
		children := make([]*node.Node, len(n.Children))
		coldOffsets := make([]voffset.ChunkOffset, len(n.Children))
		for i := range coldOffsets {
			coldOffsets[i] = voffset.Invalid
		}
		for b := byte(0); b < 16; b++ {
			pos, has := n.ChildPosition(b)
			if !has {
				continue
			}
			branches = append(branches, b)
			child := n.Children[pos]
			if child.Next != nil {
				children[pos] = child.Next
			} else {
				coldOffsets[pos] = child.Fnext
			}
		}

		raws, err := db.ring.Prefetch(context.Background(), coldOffsets)
		if err != nil {
			return false, err
		}
		for _, b := range branches {
			pos, _ := n.ChildPosition(b)
			if children[pos] == nil && raws[pos] != nil {
				decoded, err := node.Decode(raws[pos])
				if err != nil {
					return false, err
				}
				children[pos] = decoded
			}
		}

		for _, b := range branches {
			pos, _ := n.ChildPosition(b)
			cont, err := walk(children[pos], nibble.ConcatView(full, nibble.Concat(b, nibble.Empty())))
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
		}
		return true, nil
	}

	_, err = walk(root, nibble.Empty())
	return err
}
