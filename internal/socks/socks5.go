// socks5.go -- socks5 server-side handshake (CONNECT only)
//
// Grounded on the teacher's src/socks5.go greeting/request parsing
// structure; corrected (the teacher's copy has several build errors)
// and narrowed to the CONNECT command, since the tunnel core has no
// notion of a locally-bound UDP relay port to hand back in a
// UDP-ASSOCIATE reply.
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package socks

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"time"
)

const (
	cmdConnect = 0x01
	verSocks5  = 0x05
)

var (
	ErrUnsupportedVersion = errors.New("socks5: unsupported protocol version")
	ErrUnsupportedCommand = errors.New("socks5: unsupported command")
	ErrUnsupportedAddr    = errors.New("socks5: unsupported address type")
	ErrShortRequest       = errors.New("socks5: request too short")
)

// Handshake performs the greeting and CONNECT request phases of a
// socks5 negotiation on conn and returns the requested destination.
// The caller is responsible for calling WriteReply once the outcome
// (usually a dial attempt against the returned AddrSpec) is known.
func Handshake(conn net.Conn, timeout time.Duration) (AddrSpec, error) {
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}

	if err := readGreeting(conn); err != nil {
		return AddrSpec{}, err
	}
	return readRequest(conn)
}

// readGreeting consumes the client's method-selection message and
// replies that no authentication is required.
func readGreeting(conn net.Conn) error {
	buf := make([]byte, 258)
	n, err := io.ReadAtLeast(conn, buf, 2)
	if err != nil {
		return err
	}
	if n < 2 || buf[0] != verSocks5 {
		return ErrUnsupportedVersion
	}

	_, err = conn.Write([]byte{verSocks5, 0x00})
	return err
}

// readRequest consumes the client's CONNECT request and decodes its
// destination.
func readRequest(conn net.Conn) (AddrSpec, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return AddrSpec{}, err
	}
	if hdr[0] != verSocks5 {
		return AddrSpec{}, ErrUnsupportedVersion
	}
	if hdr[1] != cmdConnect {
		return AddrSpec{}, ErrUnsupportedCommand
	}

	var a AddrSpec
	switch AddrType(hdr[3]) {
	case AtypIPv4:
		b := make([]byte, 4+2)
		if _, err := io.ReadFull(conn, b); err != nil {
			return AddrSpec{}, err
		}
		a.Typ = AtypIPv4
		var v4 [4]byte
		copy(v4[:], b[:4])
		a.Addr = netip.AddrFrom4(v4)
		a.Port = uint16(b[4])<<8 | uint16(b[5])

	case AtypIPv6:
		b := make([]byte, 16+2)
		if _, err := io.ReadFull(conn, b); err != nil {
			return AddrSpec{}, err
		}
		a.Typ = AtypIPv6
		var v6 [16]byte
		copy(v6[:], b[:16])
		a.Addr = netip.AddrFrom16(v6)
		a.Port = uint16(b[16])<<8 | uint16(b[17])

	case AtypHost:
		lb := make([]byte, 1)
		if _, err := io.ReadFull(conn, lb); err != nil {
			return AddrSpec{}, err
		}
		b := make([]byte, int(lb[0])+2)
		if _, err := io.ReadFull(conn, b); err != nil {
			return AddrSpec{}, err
		}
		a.Typ = AtypHost
		a.Host = string(b[:lb[0]])
		a.Port = uint16(b[lb[0]])<<8 | uint16(b[lb[0]+1])

	default:
		return AddrSpec{}, ErrUnsupportedAddr
	}

	return a, nil
}

// WriteReply sends the socks5 CONNECT reply. On success, bound is the
// address to report as the (fictitious, tunnel-local) bound socket.
func WriteReply(conn net.Conn, dialErr error, bound netip.AddrPort) error {
	if dialErr != nil {
		_, err := conn.Write([]byte{verSocks5, 0x04, 0x00, byte(AtypIPv4), 0, 0, 0, 0, 0, 0})
		if err == nil {
			return dialErr
		}
		return err
	}

	addr := bound.Addr()
	port := bound.Port()

	buf := make([]byte, 4, 22)
	buf[0] = verSocks5
	buf[1] = 0x00
	buf[2] = 0x00

	if addr.Is4() {
		buf[3] = byte(AtypIPv4)
		v4 := addr.As4()
		buf = append(buf, v4[:]...)
	} else {
		buf[3] = byte(AtypIPv6)
		v6 := addr.As16()
		buf = append(buf, v6[:]...)
	}
	buf = append(buf, byte(port>>8), byte(port&0xff))

	_, err := conn.Write(buf)
	return err
}
