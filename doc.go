// Package mpt implements an on-disk, versioned Merkle Patricia Trie
// storage engine (spec §4.7, C9): a public facade over a chunked direct-I/O
// storage pool, a single writer thread, and a bounded version-history ring,
// built for high-throughput EVM-compatible state storage.
//
// Grounded on the teacher's (iotaledger/trie.go) Trie/TrieReader split: a
// cached, mutating handle versus a direct read-only one, here generalized
// from an in-process buffered cache to a dedicated writer goroutine fronting
// physical chunked storage.
package mpt
