package node

import (
	"encoding/binary"
	"fmt"

	"github.com/iotaledger/mpt/internal/nibble"
	"github.com/iotaledger/mpt/internal/voffset"
)

// Encode packs n into the on-disk layout of spec §6.1: mask, number-of-
// children, length-prefixed nibble-packed path, optional length-prefixed
// value, length-prefixed data, version, and per child a fixed record of
// (fnext, min_offset_fast, min_offset_slow, subtrie_min_version,
// child_data). Grounded on Matthalp-go-ethereum's
// turbotrie/internal/storage/decode.go field ordering (mask-led header
// followed by a per-child fixed-stride array).
func Encode(n *Node) []byte {
	pathBytes := n.Path.Pack()

	size := 2 /*mask*/ + 1 /*numChildren*/
	size += 2 + len(pathBytes) // path len + path nibble count
	size += 1                  // has-value flag
	if n.HasValue {
		size += 4 + len(n.Value)
	}
	size += 4 + len(n.Data)
	size += 8 // version
	for _, c := range n.Children {
		size += 8 /*fnext*/ + 8 /*min fast*/ + 8 /*min slow*/ + 8 /*subtrie min version*/ + 2 + len(c.ChildData)
	}

	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], n.Mask)
	off += 2
	buf[off] = byte(n.NumberOfChildren())
	off++

	binary.BigEndian.PutUint16(buf[off:], uint16(n.Path.Len()))
	off += 2
	off += copy(buf[off:], pathBytes)

	if n.HasValue {
		buf[off] = 1
		off++
		binary.BigEndian.PutUint32(buf[off:], uint32(len(n.Value)))
		off += 4
		off += copy(buf[off:], n.Value)
	} else {
		buf[off] = 0
		off++
	}

	binary.BigEndian.PutUint32(buf[off:], uint32(len(n.Data)))
	off += 4
	off += copy(buf[off:], n.Data)

	binary.BigEndian.PutUint64(buf[off:], uint64(n.Version))
	off += 8

	for _, c := range n.Children {
		// Fnext keeps its page-count spare here: a node's commitment is
		// computed over ChildData via the pluggable ComputeFunc (spec §6.2),
		// never over these physical bytes, so nothing requires the spare to
		// be canonicalized away, and a reader decoding this node back needs
		// the spare to size its read of each child (spec §4.2 read sizing).
		binary.BigEndian.PutUint64(buf[off:], uint64(c.Fnext))
		off += 8
		binary.BigEndian.PutUint64(buf[off:], uint64(c.MinOffsetFast))
		off += 8
		binary.BigEndian.PutUint64(buf[off:], uint64(c.MinOffsetSlow))
		off += 8
		binary.BigEndian.PutUint64(buf[off:], uint64(c.SubtrieMinVersion))
		off += 8
		binary.BigEndian.PutUint16(buf[off:], uint16(len(c.ChildData)))
		off += 2
		off += copy(buf[off:], c.ChildData)
	}
	return buf
}

// Decode reverses Encode.
func Decode(buf []byte) (*Node, error) {
	n := &Node{}
	off := 0
	if len(buf) < 3 {
		return nil, fmt.Errorf("node: buffer too short for header")
	}
	n.Mask = binary.BigEndian.Uint16(buf[off:])
	off += 2
	numChildren := int(buf[off])
	off++

	if off+2 > len(buf) {
		return nil, fmt.Errorf("node: truncated path length")
	}
	pathNibbles := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	pathBytes := (pathNibbles + 1) / 2
	if off+pathBytes > len(buf) {
		return nil, fmt.Errorf("node: truncated path")
	}
	n.Path = nibble.Of(buf[off : off+pathBytes]).Slice(0, pathNibbles)
	off += pathBytes

	if off >= len(buf) {
		return nil, fmt.Errorf("node: truncated value flag")
	}
	hasValue := buf[off] != 0
	off++
	if hasValue {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("node: truncated value length")
		}
		vlen := int(binary.BigEndian.Uint32(buf[off:]))
		off += 4
		if off+vlen > len(buf) {
			return nil, fmt.Errorf("node: truncated value")
		}
		n.HasValue = true
		n.Value = append([]byte(nil), buf[off:off+vlen]...)
		off += vlen
	}

	if off+4 > len(buf) {
		return nil, fmt.Errorf("node: truncated data length")
	}
	dlen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if off+dlen > len(buf) {
		return nil, fmt.Errorf("node: truncated data")
	}
	n.Data = append([]byte(nil), buf[off:off+dlen]...)
	off += dlen

	if off+8 > len(buf) {
		return nil, fmt.Errorf("node: truncated version")
	}
	n.Version = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8

	n.Children = make([]Child, 0, numChildren)
	for i := 0; i < numChildren; i++ {
		if off+34 > len(buf) {
			return nil, fmt.Errorf("node: truncated child record %d", i)
		}
		var c Child
		c.Fnext = voffset.ChunkOffset(binary.BigEndian.Uint64(buf[off:]))
		off += 8
		c.MinOffsetFast = voffset.CompactVirtual(binary.BigEndian.Uint64(buf[off:]))
		off += 8
		c.MinOffsetSlow = voffset.CompactVirtual(binary.BigEndian.Uint64(buf[off:]))
		off += 8
		c.SubtrieMinVersion = int64(binary.BigEndian.Uint64(buf[off:]))
		off += 8
		cdlen := int(binary.BigEndian.Uint16(buf[off:]))
		off += 2
		if off+cdlen > len(buf) {
			return nil, fmt.Errorf("node: truncated child data %d", i)
		}
		c.ChildData = append([]byte(nil), buf[off:off+cdlen]...)
		off += cdlen
		n.Children = append(n.Children, c)
	}
	return n, nil
}

// SizeInPages returns ceil(len(Encode(n)) / pageSize), the page count a
// reader must fetch to read the node back (spec §3.3's ChunkOffset spare).
func SizeInPages(n *Node, pageSize int) uint16 {
	size := len(Encode(n))
	pages := (size + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	return uint16(pages)
}
