// circuit.go -- per-circuit state, dispatcher, and upstream bridge
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

import (
	"sync"
	"time"
)

// DefaultAxeDuration is how long a circuit with no attached downstreams
// waits for a reconnect before it is torn down.
const DefaultAxeDuration = 100 * time.Millisecond

// Circuit is a bidirectional logical stream multiplexed over one or
// more downstream connections (component D). All exported methods are
// safe for concurrent use; the axe timer's callback takes the same lock
// as everything else.
type Circuit struct {
	mu sync.Mutex

	id uint64

	sendOffset    uint32
	recvOffset    uint32
	nextBlockSize uint16
	nextDown      int

	sentSyn     bool
	sentFin     bool
	receivedSyn bool
	receivedFin bool

	xmitPending []byte
	reasm       *reassembly
	pendingEOF  bool

	downstreams []*Downstream

	axeDuration time.Duration
	axeTimer    *time.Timer

	bridge UpstreamBridge
	table  *Table

	closed bool
}

func newCircuit(id uint64, bridge UpstreamBridge, axeDuration time.Duration, table *Table) *Circuit {
	return &Circuit{
		id:            id,
		nextBlockSize: randomBlockSize(),
		reasm:         newReassembly(),
		axeDuration:   axeDuration,
		bridge:        bridge,
		table:         table,
	}
}

// ID returns the circuit's identifier.
func (c *Circuit) ID() uint64 { return c.id }

// AttachDownstream binds d to c, disarming any pending axe timer.
func (c *Circuit) AttachDownstream(d *Downstream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d.circuit = c
	c.downstreams = append(c.downstreams, d)

	if c.axeTimer != nil {
		c.axeTimer.Stop()
		c.axeTimer = nil
	}

	if c.pendingEOF {
		if err := c.emitCloseLocked(); err != nil {
			c.destroyLocked()
		}
	}
}

// DropDownstream removes d from the circuit's downstream list. If the
// circuit is now downstream-less and both halves have already sent
// their FIN, the circuit is destroyed immediately; otherwise an axe
// timer is armed to destroy it if nothing reattaches in time.
func (c *Circuit) DropDownstream(d *Downstream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropDownstreamLocked(d)
}

func (c *Circuit) dropDownstreamLocked(d *Downstream) {
	for i, x := range c.downstreams {
		if x == d {
			c.downstreams = append(c.downstreams[:i], c.downstreams[i+1:]...)
			break
		}
	}
	d.circuit = nil

	if len(c.downstreams) == 0 {
		if c.sentFin && c.receivedFin {
			c.destroyLocked()
		} else {
			c.armAxeTimerLocked()
		}
		return
	}

	if c.nextDown >= len(c.downstreams) {
		c.nextDown = 0
	}
}

func (c *Circuit) armAxeTimerLocked() {
	if c.axeTimer != nil {
		c.axeTimer.Stop()
	}
	c.axeTimer = time.AfterFunc(c.axeDuration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.downstreams) == 0 && !c.closed {
			c.destroyLocked()
		}
	})
}

// HandleDownstreamEOF processes peer EOF on one downstream. It first
// drains whatever is already buffered on that connection through the
// normal receive path (EOF on a connection is not EOF on a circuit),
// and only drops the downstream from the circuit once this circuit has
// itself already sent its FIN -- matching the reference implementation,
// which keeps a downstream attached for as long as this side might
// still have data to send on it.
func (c *Circuit) HandleDownstreamEOF(t *Table, d *Downstream) error {
	if len(d.inbuf) > 0 {
		if err := d.Feed(t, nil); err != nil {
			c.fail(err)
			return err
		}
	}

	c.mu.Lock()
	sentFin := c.sentFin
	c.mu.Unlock()

	if sentFin {
		c.DropDownstream(d)
	}
	return nil
}

// fail terminates the circuit due to a protocol or I/O error: it closes
// every attached downstream, frees queued buffers, and removes the
// circuit from its table.
func (c *Circuit) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyLocked()
}

func (c *Circuit) destroyLocked() {
	if c.closed {
		return
	}
	c.closed = true

	if c.axeTimer != nil {
		c.axeTimer.Stop()
		c.axeTimer = nil
	}

	for _, d := range c.downstreams {
		d.Adapter.Close()
		d.circuit = nil
	}
	c.downstreams = nil
	c.reasm.reset()
	c.xmitPending = nil

	if c.table != nil {
		c.table.remove(c.id)
	}
	c.bridge.Closed()
}

// recvBlock reassembles one already-framed block and pushes whatever is
// now deliverable upstream. Any rejection is fatal to the circuit.
func (c *Circuit) recvBlock(hdr Header, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCircuitClosed
	}

	// The reassembly queue only holds what has not been delivered yet, so
	// a second SYN, anything after a delivered FIN, and a block reaching
	// back into already-delivered bytes are rejected here.
	if hdr.Flags&FlagCHAFF == 0 || hdr.Flags&(FlagSYN|FlagFIN) != 0 {
		if c.receivedFin || (c.receivedSyn &&
			(hdr.Flags&FlagSYN != 0 || seqLT(hdr.Offset, c.recvOffset))) {
			c.destroyLocked()
			return ErrProtocol
		}
	}

	if err := c.reasm.insert(hdr, payload); err != nil {
		c.destroyLocked()
		return err
	}
	if err := c.pushToUpstreamLocked(); err != nil {
		c.destroyLocked()
		return err
	}
	return nil
}

// pushToUpstreamLocked delivers the reassembly queue's head element
// upstream if it is ready. Only the head can possibly be ready: the
// reassembly queue never leaves two deliverable elements adjacent to
// each other, so this never needs to cascade.
func (c *Circuit) pushToUpstreamLocked() error {
	e, ok := c.reasm.peekHead()
	if !ok || e.offset != c.recvOffset {
		return nil
	}

	if !c.receivedSyn {
		if e.flags&FlagSYN == 0 {
			return nil
		}
		c.receivedSyn = true
	}

	if err := c.bridge.Write(e.payload); err != nil {
		return err
	}
	c.recvOffset += uint32(e.length)
	c.reasm.popHead()

	if e.flags&FlagFIN != 0 {
		c.receivedFin = true
		c.bridge.SignalEOF()
	}
	return nil
}

// Send appends newly-available upstream bytes to the circuit's transmit
// buffer and drains as many full blocks as are ready (component E).
func (c *Circuit) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCircuitClosed
	}
	if len(data) > 0 {
		c.xmitPending = append(c.xmitPending, data...)
	}
	return c.sendBlocksLocked(false)
}

// Flush retries draining xmitPending without adding new bytes; call it
// from a downstream's write-ready callback after TransmitRoom deferred
// a send.
func (c *Circuit) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCircuitClosed
	}
	return c.sendBlocksLocked(false)
}

// SendEOF half-closes the circuit's send direction (component E). If no
// downstream is attached, it merely records the intent to close -- the
// closing block is emitted as soon as a downstream attaches.
func (c *Circuit) SendEOF() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCircuitClosed
	}
	if len(c.downstreams) == 0 {
		c.pendingEOF = true
		c.sentFin = true
		return nil
	}

	if err := c.emitCloseLocked(); err != nil {
		c.destroyLocked()
		return err
	}
	return nil
}

// emitCloseLocked sends whatever closing block the pending EOF requires
// -- the tail of xmitPending marked FIN, or a bare CHAFF|FIN if nothing
// was left to send -- and notifies every attached downstream adapter.
// Called either directly from SendEOF, or from AttachDownstream when a
// downstream reattaches to a circuit that recorded the EOF while it had
// none.
func (c *Circuit) emitCloseLocked() error {
	if len(c.xmitPending) > 0 {
		if err := c.sendBlocksLocked(true); err != nil {
			return err
		}
		if len(c.xmitPending) > 0 {
			// TransmitRoom deferred the FIN-bearing block; the close
			// stays pending until a downstream reports more room.
			return nil
		}
	} else {
		if err := c.sendChaffFinLocked(); err != nil {
			return err
		}
	}

	c.sentFin = true
	c.pendingEOF = false
	for _, d := range c.downstreams {
		d.Adapter.SendEOF()
	}
	return nil
}

// sendBlocksLocked drains xmitPending while it holds at least one full
// block's worth of bytes. When atEOF is true, a final partial block that
// fits in one block is shortened and marked FIN instead of waiting for
// more data that will never arrive.
func (c *Circuit) sendBlocksLocked(atEOF bool) error {
	for {
		avail := len(c.xmitPending)
		length := c.nextBlockSize
		flags := Flags(0)
		if !c.sentSyn {
			flags |= FlagSYN
		}

		switch {
		case atEOF && avail > 0 && avail <= int(c.nextBlockSize):
			length = uint16(avail)
			flags |= FlagFIN
		case avail < int(c.nextBlockSize):
			return nil
		}

		if len(c.downstreams) == 0 {
			return ErrNoDownstreams
		}

		target := c.downstreams[c.nextDown]
		room := target.Adapter.TransmitRoom(HeaderSize+int(length), HeaderSize, HeaderSize+MaxPayload)
		if room < HeaderSize+int(length) {
			// Backpressure: defer until the adapter reports more room.
			return nil
		}

		payload := c.xmitPending[:length]
		if err := c.sendBlockLocked(target, c.sendOffset, length, flags, payload); err != nil {
			return err
		}

		c.xmitPending = c.xmitPending[length:]
		c.nextDown = (c.nextDown + 1) % len(c.downstreams)
		c.sendOffset += uint32(length)
		c.nextBlockSize = randomBlockSize()
		c.sentSyn = true

		if flags&FlagFIN != 0 {
			return nil
		}
	}
}

// sendChaffFinLocked emits a single CHAFF|FIN block (carrying SYN too if
// none has been sent yet) to close a circuit with nothing left to send.
func (c *Circuit) sendChaffFinLocked() error {
	flags := FlagCHAFF | FlagFIN
	if !c.sentSyn {
		flags |= FlagSYN
	}

	target := c.downstreams[c.nextDown]
	payload := randomBytes(int(c.nextBlockSize))

	if err := c.sendBlockLocked(target, c.sendOffset, c.nextBlockSize, flags, payload); err != nil {
		return err
	}

	c.nextDown = (c.nextDown + 1) % len(c.downstreams)
	c.sendOffset += uint32(c.nextBlockSize)
	c.nextBlockSize = randomBlockSize()
	c.sentSyn = true
	return nil
}

// sendBlockLocked frames one block and hands it to the adapter. It never
// modifies xmitPending; callers only drain their source buffer once
// this returns without error, so a failed write never loses bytes.
func (c *Circuit) sendBlockLocked(target *Downstream, offset uint32, length uint16, flags Flags, payload []byte) error {
	hdr := Header{CircuitID: c.id, Offset: offset, Length: length, Flags: flags}

	frame := make([]byte, HeaderSize+len(payload))
	if err := WriteHeader(hdr, frame); err != nil {
		return err
	}
	copy(frame[HeaderSize:], payload)

	return target.Adapter.Transmit(frame)
}
