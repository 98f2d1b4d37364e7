package sample

import "math/bits"

// Bitset is a fixed-size bit vector over token ids. The zero value is
// empty; use newBitset to size it.
type Bitset struct {
	words []uint64
	n     int
}

func newBitset(n int) Bitset {
	return Bitset{words: make([]uint64, (n+63)/64), n: n}
}

func (b *Bitset) set(i int) {
	b.words[i>>6] |= 1 << (i & 63)
}

// Test reports whether bit i is set. Out-of-range ids are unset.
func (b Bitset) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i>>6]&(1<<(i&63)) != 0
}

// Count returns the number of set bits.
func (b Bitset) Count() int {
	var n int
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Len returns the bit vector's capacity.
func (b Bitset) Len() int { return b.n }
