// mux_test_helpers_test.go -- test harness utilities
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package mux

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
)

func newAsserter(t *testing.T) func(cond bool, msg string, args ...interface{}) {
	return func(cond bool, msg string, args ...interface{}) {
		if cond {
			return
		}

		_, file, line, ok := runtime.Caller(1)
		if !ok {
			file = "???"
			line = 0
		}

		s := fmt.Sprintf(msg, args...)
		t.Fatalf("%s: %d: Assertion failed: %s\n", file, line, s)
	}
}

// memAdapter is an in-memory steg adapter: Transmit appends the framed
// block to a shared byte slice, exactly as if it went out "on the wire"
// with no cover-traffic transform. Receive is unused by these tests
// since blocks are delivered directly via Circuit.recvBlock.
type memAdapter struct {
	mu     sync.Mutex
	wire   []byte
	closed bool
	eof    bool
}

func (a *memAdapter) TransmitRoom(preferred, lo, hi int) int { return hi }

func (a *memAdapter) Transmit(b []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wire = append(a.wire, b...)
	return nil
}

func (a *memAdapter) Receive() ([]byte, error)         { return nil, nil }
func (a *memAdapter) AdvanceProtocol(b []byte) error   { return nil }
func (a *memAdapter) SendEOF() error                   { a.eof = true; return nil }
func (a *memAdapter) Close() error                     { a.closed = true; return nil }

func (a *memAdapter) bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, len(a.wire))
	copy(out, a.wire)
	return out
}

// recordingBridge collects delivered upstream bytes and EOF/close signals.
type recordingBridge struct {
	mu     sync.Mutex
	data   []byte
	eof    bool
	closed bool
	failed error
}

func (b *recordingBridge) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return nil
}

func (b *recordingBridge) SignalEOF() { b.mu.Lock(); b.eof = true; b.mu.Unlock() }
func (b *recordingBridge) Closed()    { b.mu.Lock(); b.closed = true; b.mu.Unlock() }

func (b *recordingBridge) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}
