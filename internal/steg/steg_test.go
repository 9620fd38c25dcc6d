// steg_test.go -- adapter round-trip tests over an in-memory pipe

package steg

import (
	"net"
	"runtime"
	"testing"
	"time"

	"fmt"
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

func TestIdentityRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := NewIdentity(a)
	server := NewIdentity(b)

	want := []byte("a framed block goes here")
	errc := make(chan error, 1)
	go func() { errc <- client.Transmit(want) }()

	got, err := server.Receive()
	assert(err == nil, "receive: %s", err)
	assert(<-errc == nil, "transmit failed")
	assert(string(got) == string(want), "round-trip mismatch: got %q", got)
}

func TestHTTPCoverRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := NewHTTPCover(a, false, "example.com")
	server := NewHTTPCover(b, true, "")

	want := []byte("hello upstream")
	errc := make(chan error, 1)
	go func() { errc <- client.Transmit(want) }()

	got, err := server.Receive()
	assert(err == nil, "receive: %s", err)
	assert(<-errc == nil, "transmit failed")
	assert(string(got) == string(want), "round-trip mismatch: got %q", got)
}

func TestHTTPCoverEmptyPayload(t *testing.T) {
	assert := newAsserter(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := NewHTTPCover(a, true, "")
	client := NewHTTPCover(b, false, "example.com")

	errc := make(chan error, 1)
	go func() { errc <- server.Transmit(nil) }()

	got, err := client.Receive()
	assert(err == nil, "receive: %s", err)
	assert(<-errc == nil, "transmit failed")
	assert(len(got) == 0, "expected empty payload, got %d bytes", len(got))
}

func TestIdentitySendEOFClosesPipe(t *testing.T) {
	assert := newAsserter(t)

	a, b := net.Pipe()
	defer b.Close()

	adapter := NewIdentity(a)
	assert(adapter.SendEOF() == nil, "send eof")

	b.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err := b.Read(buf)
	assert(err != nil, "peer read should observe the closed pipe")
}
