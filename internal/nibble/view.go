// Package nibble implements nibble-path primitives (spec §3.1). A nibble is
// a 4-bit value in [0,16); keys, node-path fragments, and branch selectors
// are all nibble sequences packed two-per-byte, big-endian within each byte.
//
// Grounded on the teacher's (iotaledger/trie.go) common/util.go pack/unpack
// helpers and Matthalp-go-ethereum/ludicroustrie's internal/encoding
// hex/keybytes conversions, generalized to a zero-copy window so repeated
// descent through a trie path doesn't reallocate.
package nibble

import "fmt"

// View is a zero-copy window [start, end) over a packed nibble buffer. It
// tolerates start/end that are not byte-aligned.
type View struct {
	buf   []byte
	start int // inclusive, in nibbles
	end   int // exclusive, in nibbles
}

// Of returns a View spanning every nibble in buf.
func Of(buf []byte) View {
	return View{buf: buf, start: 0, end: len(buf) * 2}
}

// Empty returns the zero-length view.
func Empty() View {
	return View{}
}

// Len returns the number of nibbles in the view.
func (v View) Len() int {
	return v.end - v.start
}

// At returns the nibble at position i within the view.
func (v View) At(i int) byte {
	n := v.start + i
	b := v.buf[n/2]
	if n%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// Slice returns the sub-view [from, to).
func (v View) Slice(from, to int) View {
	if from < 0 || to > v.Len() || from > to {
		panic(fmt.Sprintf("nibble: invalid slice [%d:%d) of length %d", from, to, v.Len()))
	}
	return View{buf: v.buf, start: v.start + from, end: v.start + to}
}

// Skip returns the view with the first n nibbles dropped.
func (v View) Skip(n int) View {
	return v.Slice(n, v.Len())
}

// CommonPrefixLen returns the length of the common nibble prefix of v and o.
func CommonPrefixLen(v, o View) int {
	n := v.Len()
	if o.Len() < n {
		n = o.Len()
	}
	for i := 0; i < n; i++ {
		if v.At(i) != o.At(i) {
			return i
		}
	}
	return n
}

// Equal reports whether v and o denote the same nibble sequence.
func Equal(v, o View) bool {
	if v.Len() != o.Len() {
		return false
	}
	return CommonPrefixLen(v, o) == v.Len()
}

// Pack materializes the view into a new packed byte buffer, with the
// fractional trailing nibble (if any) zero-padded low.
func (v View) Pack() []byte {
	n := v.Len()
	out := make([]byte, (n+1)/2)
	for i := 0; i < n; i++ {
		nib := v.At(i)
		if i%2 == 0 {
			out[i/2] |= nib << 4
		} else {
			out[i/2] |= nib & 0x0f
		}
	}
	return out
}

// Concat returns a new, freestanding View containing head's nibble followed
// by tail's nibbles. Used when path-compressing a branch nibble back onto a
// collapsed child's path (spec §4.3, create-node rule).
func Concat(head byte, tail View) View {
	buf := make([]byte, (tail.Len()+2)/2+1)
	w := View{buf: buf, start: 0, end: 0}
	w = appendNibble(w, head)
	for i := 0; i < tail.Len(); i++ {
		w = appendNibble(w, tail.At(i))
	}
	return w
}

func appendNibble(w View, nib byte) View {
	n := w.end
	if n/2 >= len(w.buf) {
		nb := make([]byte, len(w.buf)*2+2)
		copy(nb, w.buf)
		w.buf = nb
	}
	if n%2 == 0 {
		w.buf[n/2] = (w.buf[n/2] & 0x0f) | (nib << 4)
	} else {
		w.buf[n/2] = (w.buf[n/2] & 0xf0) | (nib & 0x0f)
	}
	w.end = n + 1
	return w
}

// ConcatView joins two views into one freestanding View (path = a ++ b).
func ConcatView(a, b View) View {
	w := View{buf: make([]byte, (a.Len()+b.Len()+1)/2+1)}
	for i := 0; i < a.Len(); i++ {
		w = appendNibble(w, a.At(i))
	}
	for i := 0; i < b.Len(); i++ {
		w = appendNibble(w, b.At(i))
	}
	return w
}

// Bytes reports whether the view is byte-aligned and, if so, returns the
// underlying packed bytes directly (no copy).
func (v View) Bytes() ([]byte, bool) {
	if v.start%2 != 0 || v.end%2 != 0 {
		return nil, false
	}
	return v.buf[v.start/2 : v.end/2], true
}

func (v View) String() string {
	b := make([]byte, v.Len())
	for i := range b {
		n := v.At(i)
		if n < 10 {
			b[i] = '0' + n
		} else {
			b[i] = 'a' + (n - 10)
		}
	}
	return string(b)
}
