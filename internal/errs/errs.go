// Package errs holds the caller-visible error taxonomy (spec §6.3) and a
// small assertion helper for the node invariants in spec §3.2.
package errs

import "golang.org/x/xerrors"

var (
	// ErrKeyNotFound is returned when the key is absent from the live trie
	// at the given version.
	ErrKeyNotFound = xerrors.New("mpt: key not found")
	// ErrVersionNoLongerExist is returned when the requested version has
	// been evicted from the history ring, or was never present.
	ErrVersionNoLongerExist = xerrors.New("mpt: version no longer exists")
	// ErrWriteAmplificationFull is returned when the pool runs out of free
	// chunks during compaction or write.
	ErrWriteAmplificationFull = xerrors.New("mpt: out of free chunks")
	// ErrInvalidInput covers malformed keys, negative versions, and version
	// regressions beyond the ring.
	ErrInvalidInput = xerrors.New("mpt: invalid input")
	// ErrPoolOpen is returned for open-time file errors.
	ErrPoolOpen = xerrors.New("mpt: pool open failed")
	// ErrPoolSizeMismatch is returned when existing files disagree with the
	// configured geometry.
	ErrPoolSizeMismatch = xerrors.New("mpt: pool size mismatch")
	// ErrUnknown covers unexpected internal find results.
	ErrUnknown = xerrors.New("mpt: unknown internal error")
)

// Wrap annotates err with a message while preserving xerrors.Is/As matching
// against the sentinels above.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return xerrors.Errorf("%s: %w", msg, err)
}

// Assert panics with a formatted message if cond is false. Per spec §7,
// invariant violations are fatal and expected to crash the process.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(xerrors.Errorf(format, args...))
	}
}
