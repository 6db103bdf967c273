package voffset

import "testing"

func TestCompactOrdersByAgeBeforeChunkID(t *testing.T) {
	older := Compact(Virtual{Phys: Pack(9, 0, 1), List: ListFast, Age: 1})
	newer := Compact(Virtual{Phys: Pack(1, 0, 1), List: ListFast, Age: 2})
	if !(older < newer) {
		t.Fatalf("older chunk (age 1, id 9) must sort below newer chunk (age 2, id 1), got older=%d newer=%d", older, newer)
	}
}

func TestCompactBreaksTiesByChunkID(t *testing.T) {
	a := Compact(Virtual{Phys: Pack(1, 0, 1), List: ListFast, Age: 5})
	b := Compact(Virtual{Phys: Pack(2, 0, 1), List: ListFast, Age: 5})
	if !(a < b) {
		t.Fatalf("same-age offsets must tie-break by chunk id, got a=%d b=%d", a, b)
	}
}
