// bridge.go -- the contract the core uses to move bytes to the upstream peer
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

// UpstreamBridge is the upstream bridge contract (component H). The
// core consumes it to move reassembled bytes to the upstream peer and
// to signal end-of-stream and circuit teardown; it never touches an
// upstream socket directly.
type UpstreamBridge interface {
	// Write delivers reassembled, in-order payload bytes upstream.
	Write(b []byte) error

	// SignalEOF is called exactly once, when a FIN block is consumed
	// from the reassembly queue.
	SignalEOF()

	// Closed is called when the owning circuit has been destroyed, so
	// the bridge can release its upstream connection.
	Closed()
}
