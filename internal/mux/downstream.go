// downstream.go -- connection lifecycle: binding downstreams to circuits
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

// Downstream is one transport connection carrying blocks for a circuit.
// It is "loose" (Circuit == nil) until its first received block selects
// a circuit id, at which point it is attached. Client-side downstreams
// are attached at construction time via Circuit.AttachDownstream, since
// their circuit id is already known.
type Downstream struct {
	Adapter Adapter

	inbuf   []byte
	circuit *Circuit
}

// NewDownstream wraps a steg adapter as a loose downstream connection.
func NewDownstream(a Adapter) *Downstream {
	return &Downstream{Adapter: a}
}

// Circuit returns the circuit this downstream is currently bound to, or
// nil if it is still loose.
func (d *Downstream) Circuit() *Circuit { return d.circuit }

// Feed appends newly-read, de-obfuscated bytes from the adapter and
// parses as many complete blocks as are available. The first block ever
// seen on a loose downstream selects (or, server-side, creates) its
// circuit via t. Every subsequent block must name the same circuit id.
//
// The receive loop will not even attempt to peek a header until at
// least MinFramingRead bytes are buffered, and will not consume a block
// until MinFramingRead + payload-length bytes are available -- matching
// the framing discipline of the original block reader, which always
// keeps enough slack buffered to safely look at the next header too.
func (d *Downstream) Feed(t *Table, data []byte) error {
	if len(data) > 0 {
		d.inbuf = append(d.inbuf, data...)
	}

	for {
		avail := len(d.inbuf)
		if avail < MinFramingRead {
			return nil
		}

		hdr, err := PeekHeader(d.inbuf)
		if err != nil {
			return err
		}

		if avail < MinFramingRead+int(hdr.Length) {
			return nil
		}

		if d.circuit == nil {
			c, err := t.findOrCreate(hdr.CircuitID)
			if err != nil {
				return err
			}
			c.AttachDownstream(d)
		}

		if d.circuit.id != hdr.CircuitID {
			return ErrProtocol
		}

		need := HeaderSize + int(hdr.Length)
		var payload []byte
		if hdr.Length > 0 {
			payload = append([]byte(nil), d.inbuf[HeaderSize:need]...)
		}
		d.inbuf = append([]byte(nil), d.inbuf[need:]...)

		if err := d.circuit.recvBlock(hdr, payload); err != nil {
			return err
		}
	}
}
