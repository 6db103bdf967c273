// Package voffset implements the on-disk chunk offset encodings of spec
// §3.3: a physical chunk_offset_t (chunk id + offset + page-count spare), a
// virtual_chunk_offset_t that additionally orders chunks by age and tags
// fast/slow list membership, and a truncated compact_virtual_chunk_offset_t
// small enough to embed in a Node's min_offset_* fields.
//
// Grounded on Matthalp-go-ethereum's turbotrie/internal/storage/key.go and
// ludicroustrie/internal/storage/node.go, which key trie nodes by a
// chunk/storage identifier; generalized here into the bit-packed layout
// spec.md §3.3/§6.1 specifies explicitly.
package voffset

import "fmt"

const (
	chunkIDBits = 20
	offsetBits  = 44
	spareBits   = 15

	chunkIDMask = (uint64(1) << chunkIDBits) - 1
	offsetMask  = (uint64(1) << offsetBits) - 1
	spareMask   = (uint64(1) << spareBits) - 1
)

// ChunkOffset is chunk_offset_t: (chunk_id: u20, offset_in_chunk: u44,
// spare: u15). Spare holds the page count needed to read the node back.
type ChunkOffset uint64

// Invalid is the sentinel distinct from any real offset (spec §3.3).
const Invalid ChunkOffset = ^ChunkOffset(0)

// Pack builds a ChunkOffset from its fields.
func Pack(chunkID uint32, offsetInChunk uint64, pageCount uint16) ChunkOffset {
	if uint64(chunkID) > chunkIDMask {
		panic(fmt.Sprintf("voffset: chunk id %d overflows %d bits", chunkID, chunkIDBits))
	}
	if offsetInChunk > offsetMask {
		panic(fmt.Sprintf("voffset: offset %d overflows %d bits", offsetInChunk, offsetBits))
	}
	if uint64(pageCount) > spareMask {
		panic(fmt.Sprintf("voffset: page count %d overflows %d bits", pageCount, spareBits))
	}
	return ChunkOffset(uint64(chunkID) | (offsetInChunk << chunkIDBits) | (uint64(pageCount) << (chunkIDBits + offsetBits)))
}

// ChunkID returns the 20-bit chunk id.
func (o ChunkOffset) ChunkID() uint32 { return uint32(uint64(o) & chunkIDMask) }

// OffsetInChunk returns the 44-bit byte offset within the chunk.
func (o ChunkOffset) OffsetInChunk() uint64 { return (uint64(o) >> chunkIDBits) & offsetMask }

// PageCount returns the spare 15-bit page count needed to read the node.
func (o ChunkOffset) PageCount() uint16 {
	return uint16((uint64(o) >> (chunkIDBits + offsetBits)) & spareMask)
}

// IsValid reports whether o is not the Invalid sentinel.
func (o ChunkOffset) IsValid() bool { return o != Invalid }

// List identifies which intrusive chunk list an offset's backing chunk
// belongs to.
type List uint8

const (
	ListFast List = iota
	ListSlow
)

// Virtual is virtual_chunk_offset_t: a ChunkOffset plus fast/slow tagging
// and an age ordering (older physical chunks get smaller virtual offsets).
// We realize the ordering as a monotonically increasing counter assigned at
// chunk-allocation time, stored alongside the physical offset.
type Virtual struct {
	Phys ChunkOffset
	List List
	Age  uint64 // smaller = older/allocated earlier
}

// InvalidVirtual is the sentinel virtual offset.
var InvalidVirtual = Virtual{Phys: Invalid, Age: ^uint64(0)}

func (v Virtual) IsValid() bool { return v.Phys.IsValid() }

// Less orders two virtual offsets by age (used to find "the oldest
// referenced chunk" for a subtrie's min_offset_* bookkeeping, spec §3.2).
func (v Virtual) Less(o Virtual) bool { return v.Age < o.Age }

// CompactVirtual is compact_virtual_chunk_offset_t: a truncated virtual
// offset, small enough to embed per-child in a Node (spec §3.2's
// min_offset_fast/min_offset_slow fields). We truncate to 40 bits: 20 for
// chunk id, 20 for a truncated age/offset counter, which is ample for the
// bounded chunk counts a u20 id already implies.
type CompactVirtual uint64

const compactMask = (uint64(1) << 40) - 1

// InvalidCompact is the sentinel compact virtual offset.
const InvalidCompact CompactVirtual = CompactVirtual(compactMask)

// Compact truncates a Virtual offset for embedding in a Node. The truncated
// age occupies the high 20 bits and the chunk id the low 20, so ordering two
// CompactVirtual values by `<` compares age first (per spec §3.3: "older
// chunks get smaller virtual offsets"), falling back to chunk id only to
// break ties between offsets allocated in the same truncated age bucket.
func Compact(v Virtual) CompactVirtual {
	if !v.IsValid() {
		return InvalidCompact
	}
	truncatedAge := v.Age & ((1 << 20) - 1)
	packed := (truncatedAge << 20) | uint64(v.Phys.ChunkID())
	return CompactVirtual(packed & compactMask)
}

func (c CompactVirtual) IsValid() bool { return c != InvalidCompact }

// Min returns the smaller of a and b, treating invalid as "no constraint"
// (i.e. it contributes nothing, per spec §3.2's invariant on min_offset_*).
func Min(a, b CompactVirtual) CompactVirtual {
	switch {
	case !a.IsValid():
		return b
	case !b.IsValid():
		return a
	case a < b:
		return a
	default:
		return b
	}
}
