// size_test.go -- size-suffix parsing

package config

import "testing"

type sizeTest struct {
	in  string
	out uint64
	err bool
}

var sizesTests = []sizeTest{
	{"", 0, false},
	{"10", 10, false},
	{"4k", 4096, false},
	{"10M", 10 * 1048576, false},
	{"80G", 80 * _GB, false},
	{"10T", 10 * _TB, false},

	{"4x", 0, true},
	{"boo", 0, true},

	// overflow
	{"1048576E", 0, true},
}

func TestParseSize(t *testing.T) {
	assert := newAsserter(t)

	for i, tc := range sizesTests {
		v, err := ParseSize(tc.in)
		if tc.err {
			assert(err != nil, "%2d: %s: expected to fail", i, tc.in)
			continue
		}
		assert(err == nil, "%2d: %s: unexpected err: %s", i, tc.in, err)
		assert(tc.out == v, "%2d: %s: exp %v, saw %v", i, tc.in, tc.out, v)
	}
}
