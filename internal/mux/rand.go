// rand.go -- randomized block sizes and chaff payloads
//
// The randomized sizing exists so that each downstream, taken alone,
// looks like plausible cover traffic to the steg layer; a predictable
// size or a silent circuit when idle would give the game away.
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

var (
	rngMu sync.Mutex
	rng   = mrand.New(mrand.NewSource(seedFromCrypto()))
)

func seedFromCrypto() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.BigEndian.Uint64(b[:]))
}

// randomBlockSize draws a block size uniformly from [MinBlockSize, MaxBlockSize].
func randomBlockSize() uint16 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return uint16(MinBlockSize + rng.Intn(MaxBlockSize-MinBlockSize+1))
}

// randomBytes returns n freshly-drawn random bytes, used for chaff payloads.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rngMu.Lock()
	rng.Read(b)
	rngMu.Unlock()
	return b
}

// randomCircuitID draws a 64-bit circuit id for client-side allocation.
func randomCircuitID() uint64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Uint64()
}
