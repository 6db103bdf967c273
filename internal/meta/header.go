package meta

import (
	"bytes"
	"encoding/binary"

	"github.com/iotaledger/mpt/internal/errs"
	"github.com/iotaledger/mpt/internal/voffset"
)

// HeaderChunkID is the well-known chunk reserved for the persisted header
// (spec §3.4: "a single persisted header struct at a well-known location").
const HeaderChunkID uint32 = 0

// ReservedChunks is the number of chunks carved out for the header and
// never handed to the free list.
const ReservedChunks uint32 = 1

// Header is the in-memory form of the persisted metadata header: the
// free/fast/slow chunk lists plus the version-history ring and the
// latest-finalized/verified/voted pointers.
type Header struct {
	Lists *Lists
	Ring  *Ring
}

// New builds a fresh Header over numChunks chunks with the given ring
// capacity (spec §3.4's H = version_history_length).
func New(numChunks uint32, historyLength int) *Header {
	return &Header{
		Lists: NewLists(numChunks, ReservedChunks),
		Ring:  NewRing(historyLength),
	}
}

// Cursors holds the current fast/slow write cursors, persisted alongside
// the header (spec §3.4).
type Cursors struct {
	Fast voffset.ChunkOffset
	Slow voffset.ChunkOffset
}

// Encode serializes h and the current write cursors into a flat binary
// buffer, for storage in the reserved header chunk. No pack repo persists
// its own bookkeeping header (the teacher is handed an already-durable
// KVReader/KVWriter and never owns physical storage); this is a plain
// fixed-width binary encoding via stdlib encoding/binary, matching the
// packed style the node codec (internal/node) already uses, rather than a
// bespoke wire format.
func Encode(h *Header, cur Cursors) ([]byte, error) {
	var buf bytes.Buffer

	writeU32 := func(v uint32) { _ = binary.Write(&buf, binary.BigEndian, v) }
	writeU64 := func(v uint64) { _ = binary.Write(&buf, binary.BigEndian, v) }
	writeI64 := func(v int64) { _ = binary.Write(&buf, binary.BigEndian, v) }

	writeU32(uint32(len(h.Lists.chunks)))
	for _, c := range h.Lists.chunks {
		buf.WriteByte(byte(c.inList))
		writeU32(c.prev)
		writeU32(c.next)
		writeU64(c.age)
	}
	for _, v := range h.Lists.heads {
		writeU32(v)
	}
	for _, v := range h.Lists.tails {
		writeU32(v)
	}
	for _, v := range h.Lists.counts {
		writeU32(v)
	}
	writeU64(h.Lists.nextAge)

	writeU32(uint32(len(h.Ring.entries)))
	for _, e := range h.Ring.entries {
		writeI64(e.version)
		writeU64(uint64(e.offset))
		if e.valid {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeU64(uint64(e.startFastCursor))
		writeU64(uint64(e.startSlowCursor))
	}
	writeI64(int64(h.Ring.H))
	writeI64(h.Ring.latestVersion)
	writeI64(h.Ring.earliestValidVersion)
	writeI64(h.Ring.latestFinalizedVersion)
	writeI64(h.Ring.latestVerifiedVersion)
	writeI64(h.Ring.latestVotedVersion)
	buf.Write(h.Ring.latestVotedBlockID[:])
	if h.Ring.hasAny {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	writeU64(uint64(cur.Fast))
	writeU64(uint64(cur.Slow))

	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*Header, Cursors, error) {
	r := bytes.NewReader(data)

	readU32 := func() (uint32, error) {
		var v uint32
		err := binary.Read(r, binary.BigEndian, &v)
		return v, err
	}
	readU64 := func() (uint64, error) {
		var v uint64
		err := binary.Read(r, binary.BigEndian, &v)
		return v, err
	}
	readI64 := func() (int64, error) {
		var v int64
		err := binary.Read(r, binary.BigEndian, &v)
		return v, err
	}
	readByte := func() (byte, error) {
		return r.ReadByte()
	}

	fail := func(err error) (*Header, Cursors, error) {
		return nil, Cursors{}, errs.Wrap(err, "meta: header decode failed")
	}

	numChunks, err := readU32()
	if err != nil {
		return fail(err)
	}
	chunks := make([]chunkEntry, numChunks)
	for i := range chunks {
		b, err := readByte()
		if err != nil {
			return fail(err)
		}
		prev, err := readU32()
		if err != nil {
			return fail(err)
		}
		next, err := readU32()
		if err != nil {
			return fail(err)
		}
		age, err := readU64()
		if err != nil {
			return fail(err)
		}
		chunks[i] = chunkEntry{inList: List(b), prev: prev, next: next, age: age}
	}
	var heads, tails, counts [3]uint32
	for i := range heads {
		if heads[i], err = readU32(); err != nil {
			return fail(err)
		}
	}
	for i := range tails {
		if tails[i], err = readU32(); err != nil {
			return fail(err)
		}
	}
	for i := range counts {
		if counts[i], err = readU32(); err != nil {
			return fail(err)
		}
	}
	nextAge, err := readU64()
	if err != nil {
		return fail(err)
	}

	numRing, err := readU32()
	if err != nil {
		return fail(err)
	}
	entries := make([]ringEntry, numRing)
	for i := range entries {
		version, err := readI64()
		if err != nil {
			return fail(err)
		}
		off, err := readU64()
		if err != nil {
			return fail(err)
		}
		validByte, err := readByte()
		if err != nil {
			return fail(err)
		}
		sf, err := readU64()
		if err != nil {
			return fail(err)
		}
		ss, err := readU64()
		if err != nil {
			return fail(err)
		}
		entries[i] = ringEntry{
			version: version, offset: voffset.ChunkOffset(off), valid: validByte != 0,
			startFastCursor: voffset.ChunkOffset(sf), startSlowCursor: voffset.ChunkOffset(ss),
		}
	}
	hVal, err := readI64()
	if err != nil {
		return fail(err)
	}
	latestVersion, err := readI64()
	if err != nil {
		return fail(err)
	}
	earliestValidVersion, err := readI64()
	if err != nil {
		return fail(err)
	}
	latestFinalizedVersion, err := readI64()
	if err != nil {
		return fail(err)
	}
	latestVerifiedVersion, err := readI64()
	if err != nil {
		return fail(err)
	}
	latestVotedVersion, err := readI64()
	if err != nil {
		return fail(err)
	}
	var blockID [32]byte
	if _, err := r.Read(blockID[:]); err != nil {
		return fail(err)
	}
	hasAnyByte, err := readByte()
	if err != nil {
		return fail(err)
	}

	fastCursor, err := readU64()
	if err != nil {
		return fail(err)
	}
	slowCursor, err := readU64()
	if err != nil {
		return fail(err)
	}

	h := &Header{
		Lists: &Lists{chunks: chunks, heads: heads, tails: tails, counts: counts, nextAge: nextAge},
		Ring: &Ring{
			entries:                entries,
			H:                      int(hVal),
			latestVersion:          latestVersion,
			earliestValidVersion:   earliestValidVersion,
			latestFinalizedVersion: latestFinalizedVersion,
			latestVerifiedVersion:  latestVerifiedVersion,
			latestVotedVersion:     latestVotedVersion,
			latestVotedBlockID:     blockID,
			hasAny:                 hasAnyByte != 0,
		},
	}
	return h, Cursors{Fast: voffset.ChunkOffset(fastCursor), Slow: voffset.ChunkOffset(slowCursor)}, nil
}
