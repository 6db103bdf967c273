package mpt

import (
	"path/filepath"
	"testing"

	"github.com/iotaledger/mpt/internal/statemachine"
	"github.com/iotaledger/mpt/internal/voffset"
	"github.com/stretchr/testify/require"
)

func anonOptions() Options {
	return Options{
		Anon:          true,
		ChunkSize:     4096,
		PageSize:      512,
		NumChunks:     64,
		HistoryLength: 16,
		Compute:       statemachine.Identity,
	}
}

func TestDatabaseUpsertThenGet(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = db.Upsert([]KV{
		{Key: []byte("aa"), Value: []byte("v-aa")},
		{Key: []byte("bb"), Value: []byte("v-bb")},
	}, 0, UpsertOptions{WriteRoot: true})
	require.NoError(t, err)

	val, found, err := db.Get(0, []byte("aa"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v-aa"), val)

	_, found, err = db.Get(0, []byte("zz"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseGetCommitmentMatchesAcrossVersions(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{{Key: []byte("k"), Value: []byte("v1")}}, 0, UpsertOptions{WriteRoot: true}))
	require.NoError(t, db.Upsert([]KV{}, 1, UpsertOptions{WriteRoot: true}))

	c0, found, err := db.GetCommitment(0, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)

	c1, found, err := db.GetCommitment(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, c0, c1, "untouched key's commitment must be stable across an unrelated version bump")
}

func TestDatabaseTraverseVisitsAllKeys(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{
		{Key: []byte("aa"), Value: []byte("1")},
		{Key: []byte("ab"), Value: []byte("2")},
		{Key: []byte("ff"), Value: []byte("3")},
	}, 0, UpsertOptions{WriteRoot: true}))

	seen := map[string][]byte{}
	ok, err := db.Traverse(0, func(key, value []byte) bool {
		seen[string(key)] = value
		return true
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, seen, 3)
	require.Equal(t, []byte("1"), seen["aa"])
}

func TestDatabaseCopyTrieDuplicatesSubtrie(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{{Key: []byte("src"), Value: []byte("payload")}}, 0, UpsertOptions{WriteRoot: true}))

	require.NoError(t, db.CopyTrie(0, []byte("src"), 1, []byte("dst")))

	val, found, err := db.Get(1, []byte("dst"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("payload"), val)

	// The source version and key are untouched.
	val, found, err = db.Get(0, []byte("src"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("payload"), val)
}

func TestDatabaseMoveTrieVersionForward(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{{Key: []byte("k"), Value: []byte("v")}}, 0, UpsertOptions{WriteRoot: true}))
	require.NoError(t, db.MoveTrieVersionForward(0, 4))

	val, found, err := db.Get(4, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), val)
}

func TestDatabaseRewindToLatestFinalized(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{{Key: []byte("k"), Value: []byte("v0")}}, 0, UpsertOptions{WriteRoot: true}))
	db.SetLatestFinalized(0)
	require.NoError(t, db.Upsert([]KV{{Key: []byte("k2"), Value: []byte("v1")}}, 1, UpsertOptions{WriteRoot: true}))

	require.NoError(t, db.RewindToLatestFinalized())

	_, _, err = db.Get(1, []byte("k2"))
	require.Error(t, err)

	val, found, err := db.Get(0, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v0"), val)
}

func TestDatabaseStatsReportsVersionRange(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{{Key: []byte("k"), Value: []byte("v")}}, 0, UpsertOptions{WriteRoot: true}))
	stats := db.Stats()
	require.Equal(t, int64(0), stats.EarliestValidVersion)
	require.Equal(t, int64(0), stats.LatestVersion)
}

func TestDatabaseCursorPinsAcrossEviction(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{{Key: []byte("k"), Value: []byte("v")}}, 0, UpsertOptions{WriteRoot: true}))

	cur, err := db.Cursor(0, []byte("k"))
	require.NoError(t, err)

	// Roll version 0 out of the 16-entry history ring while the cursor is held.
	for v := int64(1); v <= 16; v++ {
		require.NoError(t, db.Upsert(nil, v, UpsertOptions{WriteRoot: true}))
	}
	_, _, err = db.Get(0, []byte("k"))
	require.ErrorIs(t, err, ErrVersionNoLongerExist)

	val, found := cur.Value()
	require.True(t, found)
	require.Equal(t, []byte("v"), val)
	cur.Release()
}

// TestDatabaseIncarnationReplacesSubtrie covers spec scenario S4: an
// incarnated account's old storage is gone at the incarnating version but
// still observable from an older version still within the history window.
func TestDatabaseIncarnationReplacesSubtrie(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{
		{Key: []byte("A/k1"), Value: []byte("v1")},
	}, 0, UpsertOptions{WriteRoot: true}))

	require.NoError(t, db.Upsert([]KV{
		{Key: []byte("A"), Incarnation: true},
		{Key: []byte("A/k2"), Value: []byte("v2")},
	}, 1, UpsertOptions{WriteRoot: true}))

	_, found, err := db.Get(1, []byte("A/k1"))
	require.NoError(t, err)
	require.False(t, found, "incarnation must destroy the old subtrie")

	val, found, err := db.Get(1, []byte("A/k2"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), val)

	// A handle held open on the prior version still sees the old storage.
	val, found, err = db.Get(0, []byte("A/k1"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v1"), val)
}

// TestDatabaseValueAtBranchDivergencePoint covers an update whose key ends
// exactly where it diverges from an existing longer key, forcing split() to
// synthesize a branch node that itself carries a value.
func TestDatabaseValueAtBranchDivergencePoint(t *testing.T) {
	db, err := Open(anonOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{{Key: []byte("abcdef"), Value: []byte("long")}}, 0, UpsertOptions{WriteRoot: true}))
	require.NoError(t, db.Upsert([]KV{{Key: []byte("abc"), Value: []byte("short")}}, 1, UpsertOptions{WriteRoot: true}))

	val, found, err := db.Get(1, []byte("abc"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("short"), val)

	val, found, err = db.Get(1, []byte("abcdef"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("long"), val)
}

func fileOptions(dir string) Options {
	return Options{
		Paths:         []string{filepath.Join(dir, "data.chunks")},
		ChunkSize:     4096,
		PageSize:      512,
		NumChunks:     64,
		HistoryLength: 16,
		Compute:       statemachine.Identity,
	}
}

func TestDatabasePersistsHeaderAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(fileOptions(dir))
	require.NoError(t, err)
	require.NoError(t, db.Upsert([]KV{{Key: []byte("k"), Value: []byte("v")}}, 0, UpsertOptions{WriteRoot: true}))
	require.NoError(t, db.Close())

	reopened := fileOptions(dir)
	reopened.OpenExisting = true
	db2, err := Open(reopened)
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })

	val, found, err := db2.Get(0, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), val)
}

// TestDatabaseUpsertAfterReopenPreservesPriorKeys covers the restart
// lifecycle spec §7 describes: the first Upsert after a reopen must build on
// the durably-committed previous root, not an empty trie rebuilt from the
// in-memory roots cache alone (which starts empty after OpenExisting).
func TestDatabaseUpsertAfterReopenPreservesPriorKeys(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(fileOptions(dir))
	require.NoError(t, err)
	require.NoError(t, db.Upsert([]KV{{Key: []byte("k1"), Value: []byte("v1")}}, 0, UpsertOptions{WriteRoot: true}))
	require.NoError(t, db.Close())

	reopened := fileOptions(dir)
	reopened.OpenExisting = true
	db2, err := Open(reopened)
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })

	require.NoError(t, db2.Upsert([]KV{{Key: []byte("k2"), Value: []byte("v2")}}, 1, UpsertOptions{WriteRoot: true}))

	val, found, err := db2.Get(1, []byte("k1"))
	require.NoError(t, err)
	require.True(t, found, "the key committed before the reopen must survive the post-reopen upsert")
	require.Equal(t, []byte("v1"), val)

	val, found, err = db2.Get(1, []byte("k2"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), val)
}

func TestReadOnlyDatabaseSeesCommittedData(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(fileOptions(dir))
	require.NoError(t, err)
	require.NoError(t, db.Upsert([]KV{{Key: []byte("k"), Value: []byte("v")}}, 0, UpsertOptions{WriteRoot: true}))
	require.NoError(t, db.Close())

	ro, err := OpenReadOnly(fileOptions(dir))
	require.NoError(t, err)
	t.Cleanup(func() { ro.Close() })

	val, found, err := ro.Get(0, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), val)

	_, found, err = ro.Get(0, []byte("missing"))
	require.NoError(t, err)
	require.False(t, found)
}

// TestDatabaseCompactionReclaimsVacatedChunks covers spec §8.6/§8.7: once a
// compaction frontier advances past a chunk's allocation age, the chunk it
// superseded must actually return to the free list, not merely get
// disconnected from the trie in memory.
func TestDatabaseCompactionReclaimsVacatedChunks(t *testing.T) {
	opts := anonOptions()
	opts.HistoryLength = 2
	db, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Upsert([]KV{
		{Key: []byte("aa"), Value: []byte("v-aa")},
		{Key: []byte("bb"), Value: []byte("v-bb")},
	}, 0, UpsertOptions{WriteRoot: true}))

	// Push the compaction frontier far enough forward that every chunk
	// written above counts as stale, forcing the next Upsert to
	// copy-forward rewrite rather than reuse them.
	db.SetFrontiers(Frontiers{
		CompactOffsetFast: voffset.Compact(voffset.Virtual{Phys: voffset.Pack(0, 0, 1), List: voffset.ListFast, Age: 1 << 19}),
		AutoExpireVersion: -1,
	})

	require.NoError(t, db.Upsert([]KV{
		{Key: []byte("cc"), Value: []byte("v-cc")},
	}, 1, UpsertOptions{WriteRoot: true, EnableCompaction: true}))
	freeAfterRewrite := db.Stats().FreeChunks

	// A no-op commit that only advances the version-history ring so
	// earliestValidVersion rolls past the version that vacated chunks
	// during the rewrite above; it touches no key, so it allocates no new
	// chunks itself and any free-count increase can only be reclamation.
	require.NoError(t, db.Upsert(nil, 2, UpsertOptions{WriteRoot: true}))
	freeAfterEviction := db.Stats().FreeChunks

	require.Greater(t, freeAfterEviction, freeAfterRewrite,
		"chunks vacated by the copy-forward rewrite must return to the free list once the vacating version rolls out of the history ring")

	val, found, err := db.Get(2, []byte("aa"))
	require.NoError(t, err)
	require.True(t, found, "a key untouched by the rewrite must still resolve after its backing chunk moved")
	require.Equal(t, []byte("v-aa"), val)
}
