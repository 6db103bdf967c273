package mpt

import (
	"log/slog"

	"github.com/iotaledger/mpt/internal/pool"
	"github.com/iotaledger/mpt/internal/statemachine"
)

const (
	defaultChunkSize     = 4 << 20 // 4 MiB
	defaultPageSize      = 4096
	defaultHistoryLength = 1 << 16
	defaultCacheSize     = 4096
)

// Options configures Open/OpenReadOnly (spec §4.1/§4.5's pool and
// version-history parameters, surfaced at the facade).
type Options struct {
	// Paths lists the backing files; ignored when Anon is true.
	Paths []string
	// Anon requests an anonymous, unlinked backing store (tests, ephemeral
	// databases).
	Anon bool
	// ChunkSize is the fixed chunk size in bytes. Defaults to 4 MiB.
	ChunkSize int
	// PageSize is the direct-I/O page size. Defaults to 4 KiB.
	PageSize int
	// NumChunks is the total chunk count across all backing files.
	NumChunks uint32
	// HistoryLength (H) bounds the version-history ring. Defaults to 65536.
	HistoryLength int
	// OpenExisting requires Paths to already exist with matching geometry.
	OpenExisting bool
	// SkipSizeCheck disables the file-size-vs-geometry consistency check.
	SkipSizeCheck bool
	// Compute supplies the node commitment function (spec §6.2's
	// get_compute()). Defaults to statemachine.Identity, suitable for tests;
	// production callers should pass statemachine.KeccakMPT or their own.
	Compute statemachine.ComputeFunc
	// StateMachine overrides the full pluggable capability set (spec §6.2).
	// If set, Compute is ignored.
	StateMachine statemachine.StateMachine
	// CacheSize bounds the FindOwning pinned-node cache.
	CacheSize int
	// Log receives the writer's lifecycle diagnostics. Defaults to
	// slog.Default().
	Log *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}
	if o.HistoryLength == 0 {
		o.HistoryLength = defaultHistoryLength
	}
	if o.CacheSize == 0 {
		o.CacheSize = defaultCacheSize
	}
	return o
}

func (o Options) poolOptions() pool.Options {
	return pool.Options{
		Paths:         o.Paths,
		Anon:          o.Anon,
		ChunkSize:     o.ChunkSize,
		PageSize:      o.PageSize,
		NumChunks:     o.NumChunks,
		OpenExisting:  o.OpenExisting,
		SkipSizeCheck: o.SkipSizeCheck,
	}
}

func (o Options) stateMachine() statemachine.StateMachine {
	if o.StateMachine != nil {
		return o.StateMachine
	}
	return statemachine.NewDefault(o.Compute)
}
