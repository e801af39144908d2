// Package sn implements modular sequence-number arithmetic for RLC-AM,
// as used by TS 38.322: comparisons are never made on raw SN values but
// on values rebased to a configured lower edge of the window.
package sn

import "fmt"

// Size is the width, in bits, of an RLC-AM sequence number.
// TS 38.322 only defines 12-bit and 18-bit variants.
type Size uint8

const (
	Size12 Size = 12
	Size18 Size = 18
)

// Invalid is the reserved value representing "no sequence number".
const Invalid uint32 = 0xffffffff

// Modulus returns M = 2^size, the sequence-number space.
func (s Size) Modulus() uint32 {
	return uint32(1) << uint8(s)
}

// Window returns W = M/2, the admissible window size.
func (s Size) Window() uint32 {
	return s.Modulus() / 2
}

// Valid reports whether s is a size this package supports.
func (s Size) Valid() bool {
	return s == Size12 || s == Size18
}

func (s Size) String() string {
	return fmt.Sprintf("%dbit", uint8(s))
}

// Rebase returns (x - base) mod M, the value x expressed relative to base.
// All ordering comparisons between sequence numbers must go through Rebase
// against a common edge; comparing raw SN values directly is a bug once the
// space has wrapped.
func (s Size) Rebase(x, base uint32) uint32 {
	m := s.Modulus()
	return (x - base + m) % m
}

// Add returns (x + delta) mod M.
func (s Size) Add(x, delta uint32) uint32 {
	return (x + delta) % s.Modulus()
}

// Sub returns (x - delta) mod M.
func (s Size) Sub(x, delta uint32) uint32 {
	m := s.Modulus()
	return (x - delta + m) % m
}

// InWindow reports whether x lies in [base, base+W) modulo M.
func (s Size) InWindow(x, base uint32) bool {
	return s.Rebase(x, base) < s.Window()
}

// Less reports whether a comes strictly before b when both are rebased to base.
func (s Size) Less(a, b, base uint32) bool {
	return s.Rebase(a, base) < s.Rebase(b, base)
}

// LessEqual reports whether a comes at or before b when both are rebased to base.
func (s Size) LessEqual(a, b, base uint32) bool {
	return s.Rebase(a, base) <= s.Rebase(b, base)
}

// Max returns whichever of a, b rebases further from base (i.e. modular max).
func (s Size) Max(a, b, base uint32) uint32 {
	if s.Less(a, b, base) {
		return b
	}
	return a
}

// Min returns whichever of a, b rebases closer to base (i.e. modular min).
func (s Size) Min(a, b, base uint32) uint32 {
	if s.Less(a, b, base) {
		return a
	}
	return b
}
