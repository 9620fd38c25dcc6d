// reassembly_test.go -- ordering, merge, and rejection behavior of the
// per-circuit reassembly queue

package mux

import "testing"

func hdr(offset uint32, length uint16, flags Flags) Header {
	return Header{CircuitID: 1, Offset: offset, Length: length, Flags: flags}
}

func payload(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestReassemblyGapFillMerge(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	assert(r.insert(hdr(0, 10, FlagSYN), payload(10, 'a')) == nil, "insert SYN block")
	assert(r.insert(hdr(20, 10, 0), payload(10, 'c')) == nil, "insert block at 20")
	assert(r.insert(hdr(10, 10, 0), payload(10, 'b')) == nil, "insert block at 10 merges everything")

	e, ok := r.peekHead()
	assert(ok, "expected a merged head element")
	assert(e.offset == 0, "merged offset should be 0, got %d", e.offset)
	assert(e.length == 30, "merged length should be 30, got %d", e.length)
	assert(e.flags&FlagSYN != 0, "merged element should retain SYN flag")

	want := append(append(payload(10, 'a'), payload(10, 'b')...), payload(10, 'c')...)
	assert(byteEq(e.payload, want), "merged payload mismatch")
}

func byteEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReassemblyOverlapRejected(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	assert(r.insert(hdr(0, 10, FlagSYN), payload(10, 'a')) == nil, "insert SYN block")
	err := r.insert(hdr(5, 10, 0), payload(10, 'b'))
	assert(err == ErrProtocol, "overlapping block should be rejected, got %v", err)
}

func TestReassemblyDuplicateSYNRejected(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	assert(r.insert(hdr(0, 10, FlagSYN), payload(10, 'a')) == nil, "first SYN")
	err := r.insert(hdr(0, 5, FlagSYN), payload(5, 'z'))
	assert(err == ErrProtocol, "duplicate SYN should be rejected, got %v", err)
}

func TestReassemblySYNOffsetMustBeZero(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	err := r.insert(hdr(5, 10, FlagSYN), payload(10, 'a'))
	assert(err == ErrProtocol, "SYN at nonzero offset should be rejected, got %v", err)
}

func TestReassemblyDuplicateFINRejected(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	assert(r.insert(hdr(0, 10, FlagSYN), payload(10, 'a')) == nil, "SYN")
	assert(r.insert(hdr(10, 10, FlagFIN), payload(10, 'b')) == nil, "FIN")
	err := r.insert(hdr(20, 0, FlagFIN), nil)
	assert(err == ErrProtocol, "duplicate FIN should be rejected, got %v", err)
}

func TestReassemblyDataAfterFINRejected(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	assert(r.insert(hdr(0, 10, FlagSYN), payload(10, 'a')) == nil, "SYN")
	assert(r.insert(hdr(10, 10, FlagFIN), payload(10, 'b')) == nil, "FIN")
	err := r.insert(hdr(20, 5, 0), payload(5, 'c'))
	assert(err == ErrProtocol, "data after FIN should be rejected, got %v", err)
}

func TestReassemblyChaffWithoutFlagsDropped(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	err := r.insert(hdr(0, 20, FlagCHAFF), payload(20, 'x'))
	assert(err == nil, "bare chaff should be silently dropped, got %v", err)
	_, ok := r.peekHead()
	assert(!ok, "bare chaff must not enter the queue")
}

func TestReassemblyChaffSYNZeroLength(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	err := r.insert(hdr(0, 500, FlagCHAFF|FlagSYN), payload(500, 'x'))
	assert(err == nil, "chaff SYN should be accepted, got %v", err)

	e, ok := r.peekHead()
	assert(ok, "chaff SYN should be queued")
	assert(e.length == 0, "chaff SYN must be positioned with zero length, got %d", e.length)
	assert(e.flags&FlagSYN != 0, "chaff SYN must retain SYN flag")
}

func TestReassemblyReverseArrivalReconstructs(t *testing.T) {
	assert := newAsserter(t)

	r := newReassembly()
	// Same split as the two-downstream scenario, delivered out of order.
	assert(r.insert(hdr(192, 64, 0), payload(64, 4)) == nil, "block 3")
	assert(r.insert(hdr(64, 64, 0), payload(64, 2)) == nil, "block 1")
	assert(r.insert(hdr(0, 64, FlagSYN), payload(64, 1)) == nil, "block 0")
	assert(r.insert(hdr(128, 64, 0), payload(64, 3)) == nil, "block 2")

	e, ok := r.peekHead()
	assert(ok, "expected one fully merged element")
	assert(e.offset == 0 && e.length == 256, "expected merged [0,256), got [%d,%d)", e.offset, e.offset+uint32(e.length))
}
