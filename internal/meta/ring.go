package meta

import (
	"github.com/iotaledger/mpt/internal/errs"
	"github.com/iotaledger/mpt/internal/voffset"
)

// ringEntry is one slot of the version-history ring (spec §3.4/§4.5).
type ringEntry struct {
	version int64
	offset  voffset.ChunkOffset
	valid   bool
	// startFastCursor/startSlowCursor snapshot the write cursors as they
	// stood immediately before this version's upsert began, so
	// RewindToVersion can restore them (spec §4.5).
	startFastCursor voffset.ChunkOffset
	startSlowCursor voffset.ChunkOffset
}

// Ring is the fixed-capacity history table of (version -> root offset).
type Ring struct {
	entries []ringEntry
	H       int

	latestVersion          int64
	earliestValidVersion   int64
	latestFinalizedVersion int64
	latestVerifiedVersion  int64
	latestVotedVersion     int64
	latestVotedBlockID     [32]byte
	hasAny                 bool
}

// NewRing builds an empty ring with capacity historyLength.
func NewRing(historyLength int) *Ring {
	return &Ring{
		entries:                make([]ringEntry, historyLength),
		H:                      historyLength,
		latestVersion:          -1,
		earliestValidVersion:   0,
		latestFinalizedVersion: -1,
		latestVerifiedVersion:  -1,
		latestVotedVersion:     -1,
	}
}

func (r *Ring) slot(v int64) int {
	m := int64(r.H)
	return int(((v % m) + m) % m)
}

// LatestVersion returns the most recent version with a valid root offset,
// or -1 if the trie has never been written to.
func (r *Ring) LatestVersion() int64 { return r.latestVersion }

// EarliestValidVersion returns the oldest version still present in the ring.
func (r *Ring) EarliestValidVersion() int64 { return r.earliestValidVersion }

// InRange reports whether v lies within [earliestValidVersion, latestVersion].
func (r *Ring) InRange(v int64) bool {
	return r.hasAny && v >= r.earliestValidVersion && v <= r.latestVersion
}

// Get returns the root offset for version v, or ErrVersionNoLongerExist if
// it has been evicted or was never present (spec §6.3).
func (r *Ring) Get(v int64) (voffset.ChunkOffset, error) {
	if !r.InRange(v) {
		return voffset.Invalid, errs.ErrVersionNoLongerExist
	}
	e := r.entries[r.slot(v)]
	if !e.valid || e.version != v {
		return voffset.Invalid, errs.ErrVersionNoLongerExist
	}
	return e.offset, nil
}

// AppendRootOffset writes at latestVersion+1, evicting the oldest entry if
// the ring is full (spec §4.5).
func (r *Ring) AppendRootOffset(offset voffset.ChunkOffset, startFast, startSlow voffset.ChunkOffset) int64 {
	v := r.latestVersion + 1
	r.entries[r.slot(v)] = ringEntry{version: v, offset: offset, valid: true, startFastCursor: startFast, startSlowCursor: startSlow}
	r.latestVersion = v
	if !r.hasAny {
		r.earliestValidVersion = v
		r.hasAny = true
	} else if v-r.earliestValidVersion+1 > int64(r.H) {
		r.earliestValidVersion = v - int64(r.H) + 1
	}
	return v
}

// UpdateRootOffset overwrites an existing in-range entry (spec §4.5). It is
// rejected with ErrInvalidInput if version is gap-invalidated or out of
// range (spec §7).
func (r *Ring) UpdateRootOffset(version int64, offset voffset.ChunkOffset) error {
	if !r.InRange(version) {
		return errs.Wrap(errs.ErrInvalidInput, "meta: version not in valid ring range")
	}
	e := &r.entries[r.slot(version)]
	if !e.valid || e.version != version {
		return errs.Wrap(errs.ErrInvalidInput, "meta: version is gap-invalidated")
	}
	e.offset = offset
	return nil
}

// RewindToVersion invalidates every entry with version > v and returns the
// start-of-work-in-progress fast/slow cursors saved at v+1's append, so the
// caller can restore pool write state (spec §4.5).
func (r *Ring) RewindToVersion(v int64) (fastCursor, slowCursor voffset.ChunkOffset, err error) {
	if v < r.earliestValidVersion-1 || v > r.latestVersion {
		return voffset.Invalid, voffset.Invalid, errs.Wrap(errs.ErrInvalidInput, "meta: rewind target out of range")
	}
	var savedFast, savedSlow voffset.ChunkOffset
	if v+1 <= r.latestVersion {
		saved := r.entries[r.slot(v+1)]
		savedFast, savedSlow = saved.startFastCursor, saved.startSlowCursor
	}
	for cur := v + 1; cur <= r.latestVersion; cur++ {
		e := &r.entries[r.slot(cur)]
		if e.version == cur {
			*e = ringEntry{}
		}
	}
	r.latestVersion = v
	if v < 0 {
		r.hasAny = false
		r.earliestValidVersion = 0
	}
	return savedFast, savedSlow, nil
}

// MoveTrieVersionForward re-labels the root at src to dst (dst > src),
// invalidating any ring entries strictly between them and letting
// earliestValidVersion follow the resulting gap (spec §4.5, and the open
// question in spec §9 resolved in favor of preserving this behavior).
func (r *Ring) MoveTrieVersionForward(src, dst int64) error {
	if dst <= src {
		return errs.Wrap(errs.ErrInvalidInput, "meta: move-forward requires dst > src")
	}
	srcOffset, err := r.Get(src)
	if err != nil {
		return err
	}
	for cur := src + 1; cur < dst && cur <= r.latestVersion; cur++ {
		e := &r.entries[r.slot(cur)]
		if e.version == cur {
			*e = ringEntry{}
		}
	}
	r.entries[r.slot(dst)] = ringEntry{version: dst, offset: srcOffset, valid: true}
	if dst > r.latestVersion {
		r.latestVersion = dst
	}
	if dst-r.earliestValidVersion+1 > int64(r.H) {
		r.earliestValidVersion = dst - int64(r.H) + 1
	}
	return nil
}

func (r *Ring) SetLatestFinalized(v int64) { r.latestFinalizedVersion = v }
func (r *Ring) SetLatestVerified(v int64)  { r.latestVerifiedVersion = v }
func (r *Ring) SetLatestVoted(v int64, blockID [32]byte) {
	r.latestVotedVersion = v
	r.latestVotedBlockID = blockID
}

func (r *Ring) LatestFinalized() int64         { return r.latestFinalizedVersion }
func (r *Ring) LatestVerified() int64          { return r.latestVerifiedVersion }
func (r *Ring) LatestVoted() (int64, [32]byte) { return r.latestVotedVersion, r.latestVotedBlockID }
