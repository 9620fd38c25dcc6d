// nosteg.go -- identity steg adapter: framed blocks go straight to the wire
//
// Grounded on the original implementation's nosteg.cc: no transform, no
// backpressure notion, and no side channel.
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package steg

import (
	"io"
	"net"
)

// Identity is the "nosteg" adapter: it hands blocks to the underlying
// connection unmodified and reports unbounded transmit room.
type Identity struct {
	conn net.Conn
	rbuf []byte
}

// NewIdentity wraps conn as a nosteg adapter.
func NewIdentity(conn net.Conn) *Identity {
	return &Identity{conn: conn, rbuf: make([]byte, 65536)}
}

// TransmitRoom always reports hi: nosteg has no backpressure of its own.
func (n *Identity) TransmitRoom(preferred, lo, hi int) int { return hi }

// Transmit writes b to the wire unmodified.
func (n *Identity) Transmit(b []byte) error {
	_, err := writeAll(n.conn, b)
	return err
}

// Receive reads whatever bytes are currently available.
func (n *Identity) Receive() ([]byte, error) {
	nr, err := n.conn.Read(n.rbuf)
	if nr > 0 {
		out := make([]byte, nr)
		copy(out, n.rbuf[:nr])
		return out, err
	}
	return nil, err
}

// AdvanceProtocol is a no-op: nosteg has no side channel.
func (n *Identity) AdvanceProtocol(b []byte) error { return nil }

// SendEOF half-closes the connection if it supports it, otherwise closes it.
func (n *Identity) SendEOF() error {
	if cw, ok := n.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return n.conn.Close()
}

// Close tears down the connection.
func (n *Identity) Close() error { return n.conn.Close() }

func writeAll(w io.Writer, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		z, err := w.Write(b[n:])
		if err != nil {
			return n, err
		}
		n += z
	}
	return n, nil
}
