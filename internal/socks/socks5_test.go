// socks5_test.go -- handshake and wire-encoding tests

package socks

import (
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"testing"
	"time"
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

func TestAddrSpecMarshalRoundTripIPv4(t *testing.T) {
	assert := newAsserter(t)

	a := AddrSpec{Typ: AtypIPv4, Addr: netip.MustParseAddr("10.1.2.3"), Port: 8080}
	buf := make([]byte, 64)
	n := a.Marshal(buf)
	assert(n > 0, "marshal should succeed")

	got, consumed := UnmarshalAddrSpec(buf[:n])
	assert(consumed == n, "should consume exactly what was marshaled")
	assert(got.Typ == AtypIPv4, "type mismatch")
	assert(got.Addr == a.Addr, "addr mismatch")
	assert(got.Port == a.Port, "port mismatch")
}

func TestAddrSpecMarshalRoundTripHost(t *testing.T) {
	assert := newAsserter(t)

	a := AddrSpec{Typ: AtypHost, Host: "example.com", Port: 443}
	buf := make([]byte, 64)
	n := a.Marshal(buf)
	assert(n > 0, "marshal should succeed")

	got, consumed := UnmarshalAddrSpec(buf[:n])
	assert(consumed == n, "should consume exactly what was marshaled")
	assert(got.Host == "example.com", "host mismatch: %s", got.Host)
	assert(got.Port == 443, "port mismatch")
}

func TestUnmarshalRejectsCorruptedChecksum(t *testing.T) {
	assert := newAsserter(t)

	a := AddrSpec{Typ: AtypIPv4, Addr: netip.MustParseAddr("1.2.3.4"), Port: 80}
	buf := make([]byte, 64)
	n := a.Marshal(buf)
	buf[0] ^= 0xff // corrupt the atype byte, invalidating the checksum

	_, consumed := UnmarshalAddrSpec(buf[:n])
	assert(consumed == 0, "corrupted record should not be accepted")
}

func TestUnmarshalIncompleteBufferConsumesNothing(t *testing.T) {
	assert := newAsserter(t)

	a := AddrSpec{Typ: AtypHost, Host: "example.com", Port: 443}
	buf := make([]byte, 64)
	n := a.Marshal(buf)

	_, consumed := UnmarshalAddrSpec(buf[:n-1])
	assert(consumed == 0, "truncated buffer should report zero bytes consumed")
}

func TestHandshakeConnectIPv4(t *testing.T) {
	assert := newAsserter(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		buf := make([]byte, 2)
		client.Read(buf)

		client.Write([]byte{0x05, cmdConnect, 0x00, byte(AtypIPv4), 93, 184, 216, 34, 0x00, 0x50})
	}()

	dst, err := Handshake(server, 2*time.Second)
	assert(err == nil, "handshake: %s", err)
	assert(dst.Typ == AtypIPv4, "expected IPv4 destination")
	assert(dst.Port == 80, "expected port 80, got %d", dst.Port)
}

func TestHandshakeConnectHostname(t *testing.T) {
	assert := newAsserter(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		buf := make([]byte, 2)
		client.Read(buf)

		host := "example.com"
		req := []byte{0x05, cmdConnect, 0x00, byte(AtypHost), byte(len(host))}
		req = append(req, []byte(host)...)
		req = append(req, 0x01, 0xbb) // port 443
		client.Write(req)
	}()

	dst, err := Handshake(server, 2*time.Second)
	assert(err == nil, "handshake: %s", err)
	assert(dst.Typ == AtypHost, "expected hostname destination")
	assert(dst.Host == "example.com", "hostname mismatch: %s", dst.Host)
	assert(dst.Port == 443, "expected port 443, got %d", dst.Port)
}

func TestHandshakeRejectsUnknownCommand(t *testing.T) {
	assert := newAsserter(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		buf := make([]byte, 2)
		client.Read(buf)

		// UDP-ASSOCIATE, unsupported by this front end.
		client.Write([]byte{0x05, 0x03, 0x00, byte(AtypIPv4), 0, 0, 0, 0, 0, 0})
	}()

	_, err := Handshake(server, 2*time.Second)
	assert(err == ErrUnsupportedCommand, "want ErrUnsupportedCommand, got %v", err)
}

func TestWriteReplySuccess(t *testing.T) {
	assert := newAsserter(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- WriteReply(server, nil, netip.MustParseAddrPort("0.0.0.0:0")) }()

	buf := make([]byte, 10)
	n, err := client.Read(buf)
	assert(err == nil, "read reply: %s", err)
	assert(n >= 4, "reply too short")
	assert(buf[0] == 0x05 && buf[1] == 0x00, "expected success reply, got %v", buf[:n])
	assert(<-done == nil, "write reply failed")
}
