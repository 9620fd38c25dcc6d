// bridge.go -- upstream bridges: how reassembled circuit bytes reach a
// real TCP peer and how that peer's replies get pushed back
//
// Grounded on gotun/server.go's handleConn/copyBuf relay loop, adapted
// from a pair of net.Conn halves copied with io.Copy to a Circuit's
// Send/SendEOF/Write contract with the upstream dialed asynchronously
// so the circuit table's lock is never held across a network dial.
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package downstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	L "github.com/opencoff/go-logger"

	"github.com/jamiepg4/stegotorus/internal/config"
	"github.com/jamiepg4/stegotorus/internal/mux"
	"github.com/jamiepg4/stegotorus/internal/socks"
)

// upstreamBridge is the shared plumbing behind both a fixed-address
// bridge and a dynamically-addressed one: it buffers writes until the
// real upstream connection exists, then relays in both directions.
type upstreamBridge struct {
	mu      sync.Mutex
	conn    net.Conn
	pending []byte
	eofSeen bool
	closed  bool
	log     *L.Logger
	readTO  time.Duration
	writeTO time.Duration
}

func newUpstreamBridge(log *L.Logger, timeout config.Timeouts) *upstreamBridge {
	return &upstreamBridge{
		log:     log,
		readTO:  time.Duration(timeout.Read) * time.Second,
		writeTO: time.Duration(timeout.Write) * time.Second,
	}
}

// Write implements mux.UpstreamBridge.
func (b *upstreamBridge) Write(p []byte) error {
	b.mu.Lock()
	if b.conn == nil {
		b.pending = append(b.pending, p...)
		b.mu.Unlock()
		return nil
	}
	conn := b.conn
	b.mu.Unlock()

	if b.writeTO > 0 {
		conn.SetWriteDeadline(time.Now().Add(b.writeTO))
	}
	_, err := conn.Write(p)
	return err
}

// SignalEOF implements mux.UpstreamBridge.
func (b *upstreamBridge) SignalEOF() {
	b.mu.Lock()
	if b.conn == nil {
		b.eofSeen = true
		b.mu.Unlock()
		return
	}
	conn := b.conn
	b.mu.Unlock()
	closeWrite(conn)
}

// Closed implements mux.UpstreamBridge.
func (b *upstreamBridge) Closed() {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// attach hands the bridge its real upstream connection once dialed,
// flushing anything buffered while the dial was in flight.
func (b *upstreamBridge) attach(conn net.Conn) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return false
	}
	b.conn = conn
	pending := b.pending
	b.pending = nil
	eof := b.eofSeen
	b.mu.Unlock()

	if len(pending) > 0 {
		conn.Write(pending)
	}
	if eof {
		closeWrite(conn)
	}
	return true
}

// pump copies conn's replies back onto ckt until conn errs or closes.
func (b *upstreamBridge) pump(ckt *mux.Circuit, conn net.Conn) {
	relayToCircuit(ckt, conn, b.readTO)
}

// relayToCircuit copies conn's bytes into ckt.Send until conn errs or
// closes, then signals the circuit's own half-close.
func relayToCircuit(ckt *mux.Circuit, conn net.Conn, readTO time.Duration) {
	buf := make([]byte, bufSize)
	for {
		if readTO > 0 {
			conn.SetReadDeadline(time.Now().Add(readTO))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if serr := ckt.Send(buf[:n]); serr != nil {
				conn.Close()
				return
			}
		}
		if err != nil {
			ckt.SendEOF()
			return
		}
	}
}

func closeWrite(conn net.Conn) {
	type writeCloser interface{ CloseWrite() error }
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
		return
	}
	conn.Close()
}

// LocalBridge adapts an already-open local application connection (a
// plain forwarded socket, or one that just finished a socks5 handshake)
// as an mux.UpstreamBridge: unlike upstreamBridge, its "upstream" is
// ready the moment it is constructed, so there is nothing to buffer.
type LocalBridge struct {
	conn net.Conn
}

// NewLocalBridge wraps conn. Call Relay in its own goroutine to pump
// conn's bytes into the circuit that owns this bridge.
func NewLocalBridge(conn net.Conn) *LocalBridge { return &LocalBridge{conn: conn} }

func (b *LocalBridge) Write(p []byte) error {
	_, err := b.conn.Write(p)
	return err
}

func (b *LocalBridge) SignalEOF() { closeWrite(b.conn) }
func (b *LocalBridge) Closed()    { b.conn.Close() }

// Relay pumps the local connection's bytes into ckt until it closes.
func (b *LocalBridge) Relay(ckt *mux.Circuit, readTO time.Duration) {
	relayToCircuit(ckt, b.conn, readTO)
}

// TCPFactory builds an mux.UpstreamFactory that dials the same fixed
// address (lc.Upstream) for every new circuit on lc -- the ordinary
// server-role case.
func TCPFactory(conf *config.Conf, lc *config.ListenConf, log *L.Logger, table func() *mux.Table) mux.UpstreamFactory {
	return func(id uint64) (mux.UpstreamBridge, error) {
		b := newUpstreamBridge(log, lc.Timeout)

		go func() {
			conn, err := dialUpstream(lc.Upstream, lc.Timeout)
			if err != nil {
				log.Warn("circuit %#x: can't reach upstream %s: %s", id, lc.Upstream.Addr, err)
				b.Closed()
				return
			}
			if !b.attach(conn) {
				return
			}

			ckt := waitForCircuit(table(), id)
			if ckt == nil {
				conn.Close()
				return
			}
			b.pump(ckt, conn)
		}()

		return b, nil
	}
}

// ProxyFactory builds an mux.UpstreamFactory whose destination is not
// known until the circuit's first reassembled bytes decode as a
// socks.AddrSpec -- the socks-fronted-client case, where lc.Upstream is
// unset.
func ProxyFactory(conf *config.Conf, lc *config.ListenConf, log *L.Logger, table func() *mux.Table) mux.UpstreamFactory {
	return func(id uint64) (mux.UpstreamBridge, error) {
		b := &proxyBridge{upstreamBridge: newUpstreamBridge(log, lc.Timeout), head: []byte{}}

		go func() {
			ckt := waitForCircuit(table(), id)
			if ckt == nil {
				return
			}
			b.dialFromPrefix(ckt, lc, log)
		}()

		return b, nil
	}
}

// proxyBridge buffers the circuit's leading bytes until they decode as
// a complete socks.AddrSpec, then dials that destination and behaves
// like an ordinary upstreamBridge from then on.
type proxyBridge struct {
	*upstreamBridge

	mu   sync.Mutex
	head []byte
}

// Write buffers ahead of the normal upstreamBridge path until the
// address prefix has been consumed.
func (b *proxyBridge) Write(p []byte) error {
	b.mu.Lock()
	if b.head != nil {
		b.head = append(b.head, p...)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.upstreamBridge.Write(p)
}

func (b *proxyBridge) dialFromPrefix(ckt *mux.Circuit, lc *config.ListenConf, log *L.Logger) {
	deadline := time.Now().Add(time.Duration(lc.Timeout.Connect) * time.Second)
	var dst socks.AddrSpec
	var rest []byte

	for {
		b.mu.Lock()
		spec, n := socks.UnmarshalAddrSpec(b.head)
		if n > 0 {
			dst = spec
			rest = append([]byte(nil), b.head[n:]...)
			b.head = nil
			b.mu.Unlock()
			break
		}
		b.mu.Unlock()

		if time.Now().After(deadline) {
			log.Warn("circuit %#x: no destination within timeout", ckt.ID())
			b.Closed()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := net.DialTimeout("tcp", dst.String(), time.Duration(lc.Timeout.Connect)*time.Second)
	if err != nil {
		log.Warn("circuit %#x: can't reach %s: %s", ckt.ID(), dst.String(), err)
		b.Closed()
		return
	}

	if len(rest) > 0 {
		conn.Write(rest)
	}
	if !b.attach(conn) {
		return
	}
	b.pump(ckt, conn)
}

func dialUpstream(c *config.ConnectConf, timeout config.Timeouts) (net.Conn, error) {
	nd := &net.Dialer{Timeout: time.Duration(timeout.Connect) * time.Second}
	conn, err := nd.Dial("tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("can't dial %s: %w", c.Addr, err)
	}

	if c.Tls != nil {
		tlsCfg, err := clientTLSConfig(c.Tls)
		if err != nil {
			conn.Close()
			return nil, err
		}
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(context.Background()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", c.Addr, err)
		}
		return tc, nil
	}
	return conn, nil
}

// waitForCircuit polls the table for a circuit id that the factory
// call that created its own bridge has not yet been able to observe,
// since the factory runs before the circuit is inserted into the table.
func waitForCircuit(t *mux.Table, id uint64) *mux.Circuit {
	for i := 0; i < 500; i++ {
		if c, ok := t.Lookup(id); ok {
			return c
		}
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}
