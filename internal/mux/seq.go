// seq.go -- sequence-number arithmetic modulo 2**32
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

// seqLT reports whether s comes strictly before t in the wrapping
// 32-bit offset space: (t - s) mod 2**32 lies in (0, 2**31).
func seqLT(s, t uint32) bool {
	d := t - s
	return d != 0 && d < 0x80000000
}

// seqLE reports whether s comes at or before t in the wrapping 32-bit
// offset space: (t - s) mod 2**32 < 2**31.
func seqLE(s, t uint32) bool {
	d := t - s
	return d < 0x80000000
}
