// Package meta implements the persisted chunk-list and version-history
// metadata of spec §3.4/§4.5 (C4 + C5): three intrusive doubly-linked lists
// over chunks (free/fast/slow), the per-version root-offset ring, and the
// latest-finalized/verified/voted bookkeeping.
//
// Grounded on spec §9's own design note ("represent chunk links by index,
// not pointer; list operations are index manipulations on the metadata
// array, trivially safe under single-writer ownership") and on
// Matthalp-go-ethereum/ludicroustrie's internal/storage/finalizer.go and
// internal/versionnode/versionnode.go for the version-tagged bookkeeping
// idiom the teacher itself never needed (it never owned physical storage).
package meta

import "github.com/iotaledger/mpt/internal/errs"

// List names one of the three intrusive chunk lists.
type List uint8

const (
	ListFree List = iota
	ListFast
	ListSlow
)

const noChunk = ^uint32(0)

// chunkEntry is one slot of the persisted chunk-list array.
type chunkEntry struct {
	inList     List
	prev, next uint32 // noChunk sentinel for list ends
	age        uint64 // allocation order within fast/slow, for Virtual.Age
}

// Lists holds the free/fast/slow partition of every chunk and the
// allocation-age counter. The fast/slow write cursors are kept separately,
// in Cursors.
type Lists struct {
	chunks    []chunkEntry
	heads     [3]uint32
	tails     [3]uint32
	counts    [3]uint32
	nextAge   uint64
}

// NewLists builds an all-free chunk-list partition over numChunks chunks,
// reserving reservedChunks at the front (e.g. for the header itself) out of
// the free list entirely.
func NewLists(numChunks uint32, reservedChunks uint32) *Lists {
	l := &Lists{chunks: make([]chunkEntry, numChunks)}
	for i := range l.heads {
		l.heads[i] = noChunk
		l.tails[i] = noChunk
	}
	for id := reservedChunks; id < numChunks; id++ {
		l.chunks[id] = chunkEntry{inList: ListFree, prev: noChunk, next: noChunk}
		l.pushTail(ListFree, id)
	}
	return l
}

func (l *Lists) pushTail(list List, id uint32) {
	l.chunks[id].inList = list
	l.chunks[id].prev = l.tails[list]
	l.chunks[id].next = noChunk
	if l.tails[list] != noChunk {
		l.chunks[l.tails[list]].next = id
	} else {
		l.heads[list] = id
	}
	l.tails[list] = id
	l.counts[list]++
}

func (l *Lists) unlink(id uint32) {
	e := l.chunks[id]
	if e.prev != noChunk {
		l.chunks[e.prev].next = e.next
	} else {
		l.heads[e.inList] = e.next
	}
	if e.next != noChunk {
		l.chunks[e.next].prev = e.prev
	} else {
		l.tails[e.inList] = e.prev
	}
	l.counts[e.inList]--
}

// Allocate pops the head of the free list and appends it to dest,
// assigning it the next allocation-age counter value.
func (l *Lists) Allocate(dest List) (chunkID uint32, age uint64, err error) {
	head := l.heads[ListFree]
	if head == noChunk {
		return 0, 0, errs.ErrWriteAmplificationFull
	}
	l.unlink(head)
	l.pushTail(dest, head)
	age = l.nextAge
	l.nextAge++
	l.chunks[head].age = age
	return head, age, nil
}

// Free moves chunkID back onto the free list.
func (l *Lists) Free(chunkID uint32) {
	l.unlink(chunkID)
	l.chunks[chunkID] = chunkEntry{inList: ListFree, prev: noChunk, next: noChunk}
	l.pushTail(ListFree, chunkID)
}

// Move relocates a live chunk between the fast and slow lists.
func (l *Lists) Move(chunkID uint32, dest List) {
	l.unlink(chunkID)
	l.pushTail(dest, chunkID)
}

// AgeOf returns the allocation-order age of chunkID, for building a
// voffset.Virtual.
func (l *Lists) AgeOf(chunkID uint32) uint64 { return l.chunks[chunkID].age }

// ListOf reports which list chunkID currently belongs to.
func (l *Lists) ListOf(chunkID uint32) List { return l.chunks[chunkID].inList }

// Count returns the number of chunks currently in list.
func (l *Lists) Count(list List) uint32 { return l.counts[list] }

// Iterate walks list from head to tail, calling fn(chunkID) for each; stops
// early if fn returns false.
func (l *Lists) Iterate(list List, fn func(chunkID uint32) bool) {
	for id := l.heads[list]; id != noChunk; id = l.chunks[id].next {
		if !fn(id) {
			return
		}
	}
}
