// frontend.go -- client and socks-front-end wiring: local connections
// each become one circuit spread across the dialed downstream pool
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"time"

	L "github.com/opencoff/go-logger"

	"github.com/jamiepg4/stegotorus/internal/config"
	"github.com/jamiepg4/stegotorus/internal/downstream"
	"github.com/jamiepg4/stegotorus/internal/mux"
	"github.com/jamiepg4/stegotorus/internal/socks"
)

type clientProxy struct {
	lc  *config.ListenConf
	log *L.Logger

	table *mux.Table
	pool  *downstream.Pool

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
}

func newClientProxy(lc *config.ListenConf, log *L.Logger) *clientProxy {
	ctx, cancel := context.WithCancel(context.Background())
	tbl := mux.NewTable(mux.RoleClient, axeDuration(lc), nil)
	return &clientProxy{
		lc:     lc,
		log:    log,
		table:  tbl,
		pool:   downstream.NewPool(lc, tbl, log),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *clientProxy) Start() {
	ln, err := net.Listen("tcp", p.lc.Addr)
	if err != nil {
		die("%s: %s", p.lc.Addr, err)
	}
	p.ln = ln
	go p.accept()
	p.log.Info("%s: %s front-end listening, %d downstream(s) configured",
		p.lc.Addr, p.lc.Role, len(p.lc.Downstream))
}

func (p *clientProxy) Stop() {
	p.cancel()
	p.ln.Close()
	p.pool.Stop()
}

func (p *clientProxy) accept() {
	fails := 0
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.ctx.Done():
				return
			default:
			}
			fails++
			if fails >= 10 {
				p.log.Warn("%s: 10 consecutive accept failures, giving up", p.lc.Addr)
				return
			}
			time.Sleep(2 * time.Second)
			continue
		}
		fails = 0
		go p.handle(conn)
	}
}

// handle negotiates (or looks up) conn's destination, opens one circuit
// for it across the downstream pool, and relays in both directions.
func (p *clientProxy) handle(conn net.Conn) {
	var dst socks.AddrSpec

	if p.lc.Role == config.RoleSocks {
		timeout := time.Duration(p.lc.Timeout.Connect) * time.Second
		spec, err := socks.Handshake(conn, timeout)
		if err != nil {
			p.log.Debug("socks handshake with %s: %s", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		dst = spec
	} else {
		if p.lc.Upstream == nil {
			p.log.Warn("%s: client role needs an upstream destination", p.lc.Addr)
			conn.Close()
			return
		}
		host, portStr, err := net.SplitHostPort(p.lc.Upstream.Addr)
		if err != nil {
			p.log.Warn("bad upstream address %q: %s", p.lc.Upstream.Addr, err)
			conn.Close()
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			p.log.Warn("bad upstream port %q: %s", portStr, err)
			conn.Close()
			return
		}
		dst = socks.AddrSpec{Typ: socks.AtypHost, Host: host, Port: uint16(port)}
	}

	bridge := downstream.NewLocalBridge(conn)
	ckt := p.pool.NewCircuit(bridge)

	buf := make([]byte, 512)
	n := dst.Marshal(buf)
	if n == 0 {
		p.log.Warn("circuit %#x: destination %s too large to encode", ckt.ID(), dst.String())
		conn.Close()
		return
	}
	if err := ckt.Send(buf[:n]); err != nil {
		p.log.Warn("circuit %#x: %s", ckt.ID(), err)
		conn.Close()
		return
	}

	if p.lc.Role == config.RoleSocks {
		socks.WriteReply(conn, nil, netip.AddrPortFrom(netip.IPv4Unspecified(), 0))
	}

	bridge.Relay(ckt, time.Duration(p.lc.Timeout.Read)*time.Second)
}
