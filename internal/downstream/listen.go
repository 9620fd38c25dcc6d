// listen.go -- server-side downstream listener: accepts physical links
// from a client and feeds their blocks into the circuit table
//
// Grounded on gotun/server.go's TCPServer/QuicServer Accept loops and
// AclOK in gotun/utils.go, generalized to accept one steg-wrapped
// downstream connection per DownstreamConf entry instead of one relay
// socket per accepted client.
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
	"time"

	"github.com/quic-go/quic-go"
	L "github.com/opencoff/go-logger"
	"github.com/opencoff/go-ratelimit"

	"github.com/jamiepg4/stegotorus/internal/config"
	"github.com/jamiepg4/stegotorus/internal/mux"
)

// Listener accepts downstream connections for one DownstreamConf entry
// and feeds every block they carry into table.
type Listener struct {
	d       *config.DownstreamConf
	lc      *config.ListenConf
	table   *mux.Table
	log     *L.Logger
	rl      *ratelimit.Limiter
	tlsCfg  *tls.Config
	ctx     context.Context
	cancel  context.CancelFunc
}

// Listen starts accepting downstream connections for d, dispatching
// their blocks into table.
func Listen(conf *config.Conf, lc *config.ListenConf, d *config.DownstreamConf, table *mux.Table, log *L.Logger) (*Listener, error) {
	rl, err := ratelimit.New(lc.Ratelimit.Global, lc.Ratelimit.PerHost, 10000)
	if err != nil {
		return nil, err
	}

	var tlsCfg *tls.Config
	if lc.Tls != nil {
		tlsCfg, err = ServerTLSConfig(conf, lc.Tls, log)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{d: d, lc: lc, table: table, log: log, rl: rl, tlsCfg: tlsCfg, ctx: ctx, cancel: cancel}

	if d.Quic {
		return l, l.startQuic()
	}
	return l, l.startTCP()
}

func (l *Listener) Stop() { l.cancel() }

func (l *Listener) startTCP() error {
	ln, err := net.Listen("tcp", l.d.Addr)
	if err != nil {
		return err
	}
	go l.acceptTCP(ln)
	return nil
}

func (l *Listener) acceptTCP(ln net.Listener) {
	defer ln.Close()
	fails := 0
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		conn, err := ln.Accept()
		if err != nil {
			fails++
			if fails >= 10 {
				l.log.Warn("%s: 10 consecutive accept failures, giving up", l.d.Addr)
				return
			}
			time.Sleep(2 * time.Second)
			continue
		}
		fails = 0

		if !l.admit(conn) {
			continue
		}

		if l.tlsCfg != nil {
			conn = tls.Server(conn, l.tlsCfg)
		}

		go l.serve(conn)
	}
}

func (l *Listener) startQuic() error {
	if l.tlsCfg == nil {
		return fmt.Errorf("%s: quic downstream requires listener tls config", l.d.Addr)
	}

	pconn, err := net.ListenPacket("udp", l.d.Addr)
	if err != nil {
		return err
	}

	qln, err := quic.Listen(pconn, l.tlsCfg, &quic.Config{})
	if err != nil {
		pconn.Close()
		return err
	}

	go l.acceptQuic(qln)
	return nil
}

func (l *Listener) acceptQuic(qln *quic.Listener) {
	defer qln.Close()
	for {
		sess, err := qln.Accept(l.ctx)
		if err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
			}
			l.log.Warn("%s: quic accept: %s", l.d.Addr, err)
			continue
		}

		if !l.rl.AllowHost(sess.RemoteAddr()) {
			sess.CloseWithError(0, "ratelimited")
			continue
		}

		stream, err := sess.AcceptStream(l.ctx)
		if err != nil {
			l.log.Warn("%s: quic accept stream: %s", l.d.Addr, err)
			continue
		}

		go l.serve(&qConn{Stream: stream, sess: sess})
	}
}

func (l *Listener) admit(conn net.Conn) bool {
	if !l.rl.Allow() {
		l.log.Debug("global ratelimit reached: %s", conn.RemoteAddr())
		conn.Close()
		return false
	}
	if !l.rl.AllowHost(conn.RemoteAddr()) {
		l.log.Debug("per-host ratelimit reached: %s", conn.RemoteAddr())
		conn.Close()
		return false
	}
	if !aclOK(l.lc, conn) {
		l.log.Debug("ACL failure: %s", conn.RemoteAddr())
		conn.Close()
		return false
	}
	return true
}

func (l *Listener) serve(conn net.Conn) {
	a := wrapAdapter(conn, l.d.Adapter, l.d.CoverHost, true)
	d := mux.NewDownstream(a)
	pump(l.table, d, l.log)
}

// aclOK reports whether conn's remote address passes cfg's allow/deny
// subnets. An empty allow list means "allow everything not denied".
func aclOK(cfg *config.ListenConf, conn net.Conn) bool {
	h, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return true
	}

	for _, n := range cfg.Deny {
		if n.Contains(h.IP) {
			return false
		}
	}
	if len(cfg.Allow) == 0 {
		return true
	}
	for _, n := range cfg.Allow {
		if n.Contains(h.IP) {
			return true
		}
	}
	return false
}
