// util.go -- small string and randomness helpers for the cover adapters
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package steg

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
)

func hasFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func trimFold(s, prefix string) string {
	return strings.TrimSpace(s[len(prefix):])
}

// randIntn returns a value in [0, n) using a fresh crypto/rand draw;
// padding lengths are not adversary-sensitive so a light seed is fine.
func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	var b [4]byte
	rand.Read(b[:])
	return int(binary.BigEndian.Uint32(b[:]) % uint32(n))
}
