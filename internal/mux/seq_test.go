// seq_test.go -- sequence arithmetic modulo 2**32

package mux

import "testing"

func TestSeqLTBasic(t *testing.T) {
	assert := newAsserter(t)

	assert(seqLT(0, 1), "0 < 1")
	assert(!seqLT(1, 1), "1 !< 1")
	assert(!seqLT(1, 0), "1 !< 0")
}

func TestSeqWraparound(t *testing.T) {
	assert := newAsserter(t)

	near := uint32(1<<32 - 1)
	assert(seqLT(near, 0), "wraparound: max < 0 (mod 2**32)")
	assert(seqLE(near, near), "s <= s always")
	assert(seqLE(near, 0), "wraparound: max <= 0 (mod 2**32)")
	assert(!seqLT(0, near), "0 !< max going backward across the wrap")
}

func TestSeqLE(t *testing.T) {
	assert := newAsserter(t)

	assert(seqLE(5, 5), "5 <= 5")
	assert(seqLE(5, 6), "5 <= 6")
	assert(!seqLE(6, 5), "6 !<= 5")
}
