// table.go -- demultiplexing table: circuit_id -> circuit
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

// Role selects which side of the handshake a Table plays.
type Role int

const (
	// RoleClient allocates circuit ids locally and populates the table
	// eagerly; it never creates a circuit in response to an inbound
	// block with an unrecognized id.
	RoleClient Role = iota

	// RoleServer creates a circuit (and its upstream connection, via
	// UpstreamFactory) the first time it sees an unrecognized circuit id.
	RoleServer
)

// UpstreamFactory opens the upstream connection for a newly-discovered
// circuit id and returns the bridge the core will use to talk to it.
// Only used server-side.
type UpstreamFactory func(circuitID uint64) (UpstreamBridge, error)

// Table is the circuit table (component F): a process- or
// configuration-scoped mapping from circuit id to circuit, with O(1)
// amortized lookups. Go's built-in map already provides a well-mixed
// 64-bit hash and O(1) amortized access, so the table wraps one
// directly rather than hand-rolling a hash table.
type Table struct {
	mu          sync.Mutex
	circuits    map[uint64]*Circuit
	role        Role
	factory     UpstreamFactory
	axeDuration time.Duration
}

// NewTable creates an empty circuit table for the given role. factory
// is required for RoleServer and ignored for RoleClient. axeDuration
// configures every circuit's axe timer (see Circuit.armAxeTimerLocked);
// pass DefaultAxeDuration if the deployment has no opinion.
func NewTable(role Role, axeDuration time.Duration, factory UpstreamFactory) *Table {
	return &Table{
		circuits:    make(map[uint64]*Circuit),
		role:        role,
		factory:     factory,
		axeDuration: axeDuration,
	}
}

// NewClientCircuit allocates a random 64-bit circuit id, re-rolling on
// collision, and eagerly registers a new circuit under it (component F,
// client-side behavior).
func (t *Table) NewClientCircuit(bridge UpstreamBridge) *Circuit {
	t.mu.Lock()
	defer t.mu.Unlock()

	var id uint64
	for {
		id = randomCircuitID()
		if _, exists := t.circuits[id]; !exists {
			break
		}
	}

	c := newCircuit(id, bridge, t.axeDuration, t)
	t.circuits[id] = c
	return c
}

// findOrCreate looks up circuitID, creating a new circuit for it (server
// role only) if it has never been seen.
func (t *Table) findOrCreate(circuitID uint64) (*Circuit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.circuits[circuitID]; ok {
		return c, nil
	}

	if t.role != RoleServer {
		return nil, ErrUnknownCircuit
	}

	bridge, err := t.factory(circuitID)
	if err != nil {
		return nil, err
	}

	c := newCircuit(circuitID, bridge, t.axeDuration, t)
	t.circuits[circuitID] = c
	return c, nil
}

// Lookup returns the circuit registered under id, if any.
func (t *Table) Lookup(id uint64) (*Circuit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.circuits[id]
	return c, ok
}

// Len returns the number of live circuits.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.circuits)
}

func (t *Table) remove(id uint64) {
	t.mu.Lock()
	delete(t.circuits, id)
	t.mu.Unlock()
}

// HandleInbound feeds newly-read bytes from a downstream connection
// through to circuit dispatch, failing the bound circuit (if any) on
// any protocol error.
func (t *Table) HandleInbound(d *Downstream, data []byte) error {
	if err := d.Feed(t, data); err != nil {
		if c := d.Circuit(); c != nil {
			c.fail(err)
		}
		return err
	}
	return nil
}
