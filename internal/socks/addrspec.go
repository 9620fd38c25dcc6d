// addrspec.go -- the destination address socks5 negotiates, and its
// wire encoding for the tunnel's upstream bridge handshake
//
// Grounded on the teacher's src/addrspec.go wire layout (proto, atype,
// port, length-prefixed address, FNV checksum trailer), corrected and
// simplified to the fields a TCP-only front end actually needs.
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package socks

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net"
	"net/netip"
)

// AddrType is the socks5 address-type octet.
type AddrType uint8

const (
	AtypIPv4 AddrType = 0x01
	AtypHost AddrType = 0x03
	AtypIPv6 AddrType = 0x04
)

// AddrSpec is a socks5-negotiated destination: either a literal address
// or a hostname, plus a port.
type AddrSpec struct {
	Typ  AddrType
	Addr netip.Addr
	Host string
	Port uint16
}

// String renders the address in host:port form suitable for net.Dial.
func (a *AddrSpec) String() string {
	if a.Typ == AtypHost {
		return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))
	}
	return net.JoinHostPort(a.Addr.String(), fmt.Sprintf("%d", a.Port))
}

func checksum(b []byte) uint32 {
	h := fnv.New32a()
	h.Write(b)
	return h.Sum32()
}

// Marshal encodes the destination for transmission as the first bytes
// of a newly-opened circuit, so the server side can dial it without a
// separate control channel:
//
//	u8  atype
//	u16 port
//	u16 alen
//	*u8 address bytes (alen of them)
//	u32 FNV-1a checksum over everything above
//
// Returns the number of bytes written, or 0 if b is too small.
func (a *AddrSpec) Marshal(b []byte) int {
	var addrBytes []byte
	switch a.Typ {
	case AtypIPv4:
		v4 := a.Addr.As4()
		addrBytes = v4[:]
	case AtypIPv6:
		v6 := a.Addr.As16()
		addrBytes = v6[:]
	case AtypHost:
		addrBytes = []byte(a.Host)
	default:
		return 0
	}

	head := 5 // atype + port + alen
	tot := head + len(addrBytes)
	if len(b) < tot+4 {
		return 0
	}

	b[0] = byte(a.Typ)
	binary.BigEndian.PutUint16(b[1:], a.Port)
	binary.BigEndian.PutUint16(b[3:], uint16(len(addrBytes)))
	copy(b[head:], addrBytes)

	cs := checksum(b[:tot])
	binary.BigEndian.PutUint32(b[tot:], cs)
	return tot + 4
}

// UnmarshalAddrSpec decodes what Marshal produced. It returns the
// number of bytes consumed from b, or 0 if b does not yet hold a
// complete, checksum-valid record (the caller should buffer more and
// retry -- this never errors on a merely-incomplete buffer).
func UnmarshalAddrSpec(b []byte) (AddrSpec, int) {
	const head = 5
	if len(b) < head+4 {
		return AddrSpec{}, 0
	}

	alen := int(binary.BigEndian.Uint16(b[3:]))
	tot := head + alen
	if len(b) < tot+4 {
		return AddrSpec{}, 0
	}

	want := checksum(b[:tot])
	got := binary.BigEndian.Uint32(b[tot:])
	if want != got {
		return AddrSpec{}, 0
	}

	var a AddrSpec
	a.Typ = AddrType(b[0])
	a.Port = binary.BigEndian.Uint16(b[1:])

	switch a.Typ {
	case AtypIPv4:
		if alen != 4 {
			return AddrSpec{}, 0
		}
		var v4 [4]byte
		copy(v4[:], b[head:head+alen])
		a.Addr = netip.AddrFrom4(v4)
	case AtypIPv6:
		if alen != 16 {
			return AddrSpec{}, 0
		}
		var v6 [16]byte
		copy(v6[:], b[head:head+alen])
		a.Addr = netip.AddrFrom16(v6)
	case AtypHost:
		a.Host = string(b[head : head+alen])
	default:
		return AddrSpec{}, 0
	}

	return a, tot + 4
}
