// errors.go -- sentinel errors for the circuit-multiplexing core
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

import "errors"

var (
	// ErrNeedMore is returned by PeekHeader when the buffer does not yet
	// hold enough bytes to decide.
	ErrNeedMore = errors.New("mux: not enough bytes buffered to parse header")

	// ErrReservedFlags is returned when a header sets a flag bit outside
	// the SYN/FIN/CHAFF set.
	ErrReservedFlags = errors.New("mux: reserved flag bits set")

	// ErrLengthTooLarge is returned when a header's length exceeds the
	// maximum block payload.
	ErrLengthTooLarge = errors.New("mux: length exceeds maximum block payload")

	// ErrShortBuffer is returned by WriteHeader when the output buffer
	// is smaller than HeaderSize.
	ErrShortBuffer = errors.New("mux: output buffer shorter than header size")

	// ErrProtocol covers every reassembly/state-machine rejection; it is
	// always fatal to the owning circuit.
	ErrProtocol = errors.New("mux: protocol violation")

	// ErrCircuitClosed is returned by any operation attempted on a
	// circuit that has already been destroyed.
	ErrCircuitClosed = errors.New("mux: circuit closed")

	// ErrNoDownstreams is returned when a circuit tries to emit a block
	// with no downstream connection attached.
	ErrNoDownstreams = errors.New("mux: no downstreams attached to circuit")

	// ErrUnknownCircuit is returned when a block arrives for a circuit id
	// the table has never seen, and the table's role does not permit
	// creating one on demand.
	ErrUnknownCircuit = errors.New("mux: unknown circuit id")
)
