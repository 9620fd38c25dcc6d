// header.go -- block header serialization and deserialization
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

import "encoding/binary"

// Flags is the 16-bit control-bit field carried in every block header.
type Flags uint16

const (
	FlagSYN Flags = 1 << iota
	FlagFIN
	FlagCHAFF

	flagsKnown = FlagSYN | FlagFIN | FlagCHAFF
)

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if len(s) > 0 {
			s += "|"
		}
		s += name
	}
	if f&FlagSYN != 0 {
		add("SYN")
	}
	if f&FlagFIN != 0 {
		add("FIN")
	}
	if f&FlagCHAFF != 0 {
		add("CHAFF")
	}
	if f&^flagsKnown != 0 {
		add("RESERVED")
	}
	return s
}

const (
	// HeaderSize is the fixed, wire-exact size of a block header.
	HeaderSize = 16

	// MinFramingRead is the minimum number of bytes the receive loop
	// must have buffered before it will attempt to peek a header off a
	// downstream connection: header-only block plus a minimal follow-up
	// header's worth of bytes.
	MinFramingRead = HeaderSize * 2

	// MaxPayload is the largest payload a single block may carry.
	MaxPayload = 32767

	// MinBlockSize and MaxBlockSize bound the sender's random block-size
	// draw (component E).
	MinBlockSize = 32
	MaxBlockSize = MaxPayload
)

// Header is the 16-byte block header, decoded into host representation.
type Header struct {
	CircuitID uint64
	Offset    uint32
	Length    uint16
	Flags     Flags
}

// WriteHeader serializes hdr into out in the fixed, big-endian wire
// layout. out must be at least HeaderSize bytes.
func WriteHeader(hdr Header, out []byte) error {
	if len(out) < HeaderSize {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint64(out[0:8], hdr.CircuitID)
	binary.BigEndian.PutUint32(out[8:12], hdr.Offset)
	binary.BigEndian.PutUint16(out[12:14], hdr.Length)
	binary.BigEndian.PutUint16(out[14:16], uint16(hdr.Flags))
	return nil
}

// PeekHeader parses a header out of buf without consuming it. It returns
// ErrNeedMore if buf does not yet hold a full header, and rejects
// reserved flag bits or an over-length payload as protocol errors.
func PeekHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrNeedMore
	}

	hdr := Header{
		CircuitID: binary.BigEndian.Uint64(buf[0:8]),
		Offset:    binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint16(buf[12:14]),
		Flags:     Flags(binary.BigEndian.Uint16(buf[14:16])),
	}

	if hdr.Flags&^flagsKnown != 0 {
		return Header{}, ErrReservedFlags
	}
	if hdr.Length > MaxPayload {
		return Header{}, ErrLengthTooLarge
	}
	return hdr, nil
}
