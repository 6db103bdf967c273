package statemachine

import "golang.org/x/crypto/sha3"

// Identity is a trivial compute function for tests: a node's "commitment"
// is its 2-byte mask, then each child commitment in mask order behind a
// 2-byte length prefix, then a has-value byte (1 or 0) followed by the
// value when present, all uninterpreted. Mirrors the teacher's use of a simple identity
// model in its own test fixtures (trie_go_tests).
func Identity(mask uint16, childData [][]byte, value []byte, hasValue bool) []byte {
	out := make([]byte, 0, 2+len(value))
	out = append(out, byte(mask>>8), byte(mask))
	for _, cd := range childData {
		var l [2]byte
		l[0], l[1] = byte(len(cd)>>8), byte(len(cd))
		out = append(out, l[0], l[1])
		out = append(out, cd...)
	}
	if hasValue {
		out = append(out, 1)
		out = append(out, value...)
	} else {
		out = append(out, 0)
	}
	return out
}

// KeccakMPT is the production compute function: it hashes a 3-byte header
// (mask and has-value flag), each child commitment behind a 4-byte length
// prefix, and the value (when present) behind a 4-byte length prefix, and
// returns the Keccak-256 digest. The framing is its own, not the RLP
// encoding of a classical MPT branch/leaf node, and the node's path is not
// part of the input, so digests differ from Ethereum trie hashes. It abstracts the
// specific Merkle commitment scheme the EVM layer supplies (spec §6.2),
// without interpreting RLP itself (the trie core never depends on the EVM's
// RLP encoder — it only needs *a* deterministic framing).
func KeccakMPT(mask uint16, childData [][]byte, value []byte, hasValue bool) []byte {
	h := sha3.NewLegacyKeccak256()
	var hdr [3]byte
	hdr[0], hdr[1] = byte(mask>>8), byte(mask)
	if hasValue {
		hdr[2] = 1
	}
	h.Write(hdr[:])
	for _, cd := range childData {
		var l [4]byte
		l[0] = byte(len(cd) >> 24)
		l[1] = byte(len(cd) >> 16)
		l[2] = byte(len(cd) >> 8)
		l[3] = byte(len(cd))
		h.Write(l[:])
		h.Write(cd)
	}
	if hasValue {
		var l [4]byte
		l[0] = byte(len(value) >> 24)
		l[1] = byte(len(value) >> 16)
		l[2] = byte(len(value) >> 8)
		l[3] = byte(len(value))
		h.Write(l[:])
		h.Write(value)
	}
	return h.Sum(nil)
}
