// Package statemachine defines the pluggable seam of spec §6.2: the
// capability set {down, up, cache, compact, auto_expire, compute} that the
// EVM layer (or tests) supplies to the trie update engine. It is modeled
// as a tagged interface rather than inheritance, per spec §9's design note.
//
// Grounded on the teacher's (iotaledger/trie.go) CommitmentModel interface
// (trie/commitment.go, trie/model.go), which plays the same "pluggable
// compute function" role; generalized here to also carry the per-depth
// cache/compact/auto_expire policy toggles the spec's StateMachine needs
// and the teacher's single-purpose commitment model does not.
package statemachine

// ComputeFunc turns a node's mask, its children's commitments (indexed the
// same way as the node's dense Children slice), and an optional value into
// that node's own commitment/hash bytes. This is the pluggable hook
// spec §6.2 calls get_compute(); it is the only place a specific hash
// function (e.g. Keccak-256) enters the trie engine.
type ComputeFunc func(mask uint16, childData [][]byte, value []byte, hasValue bool) []byte

// StateMachine is the capability set the update engine consults while
// descending/ascending the trie during an upsert (spec §6.2).
type StateMachine interface {
	// Down is called when the engine descends past a branch nibble.
	Down(nibble byte)
	// Up is called when the engine ascends back up `levels` branches.
	Up(levels int)
	// Cache reports whether the node just finalized at the current depth
	// should be retained in the in-memory cache after the upsert.
	Cache() bool
	// Compact reports whether the compaction frontier policy applies at
	// the current depth.
	Compact() bool
	// AutoExpire reports whether the auto-expiration frontier policy
	// applies at the current depth.
	AutoExpire() bool
	// Compute returns the compute function used to derive node commitments.
	Compute() ComputeFunc
}

// Default is a StateMachine that always caches, always applies compaction
// and auto-expiration policy, and never tracks depth (suitable as a base to
// embed and override).
type Default struct {
	ComputeFn ComputeFunc
}

func (Default) Down(byte)      {}
func (Default) Up(int)         {}
func (Default) Cache() bool    { return true }
func (Default) Compact() bool  { return true }
func (Default) AutoExpire() bool { return true }
func (d Default) Compute() ComputeFunc {
	if d.ComputeFn == nil {
		return Identity
	}
	return d.ComputeFn
}

var _ StateMachine = Default{}

// NewDefault builds a Default state machine with the given compute
// function, or Identity if fn is nil.
func NewDefault(fn ComputeFunc) Default {
	return Default{ComputeFn: fn}
}
