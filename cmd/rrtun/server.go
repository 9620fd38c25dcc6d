// server.go -- server-role wiring: one circuit table per listener,
// fed by every configured downstream channel
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"time"

	L "github.com/opencoff/go-logger"

	"github.com/jamiepg4/stegotorus/internal/config"
	"github.com/jamiepg4/stegotorus/internal/downstream"
	"github.com/jamiepg4/stegotorus/internal/mux"
)

// proxy is the common lifecycle every listener role implements.
type proxy interface {
	Start()
	Stop()
}

func axeDuration(lc *config.ListenConf) time.Duration {
	if lc.AxeMillis <= 0 {
		return mux.DefaultAxeDuration
	}
	return time.Duration(lc.AxeMillis) * time.Millisecond
}

type serverProxy struct {
	conf *config.Conf
	lc   *config.ListenConf
	log  *L.Logger

	table     *mux.Table
	listeners []*downstream.Listener
}

// newServerProxy builds the circuit table for lc, wiring in a
// fixed-destination bridge factory when lc.Upstream names one, or a
// destination-from-stream-prefix factory otherwise.
func newServerProxy(conf *config.Conf, lc *config.ListenConf, log *L.Logger) *serverProxy {
	p := &serverProxy{conf: conf, lc: lc, log: log}

	var tbl *mux.Table
	getTable := func() *mux.Table { return tbl }

	var factory mux.UpstreamFactory
	if lc.Upstream != nil {
		factory = downstream.TCPFactory(conf, lc, log, getTable)
	} else {
		factory = downstream.ProxyFactory(conf, lc, log, getTable)
	}

	tbl = mux.NewTable(mux.RoleServer, axeDuration(lc), factory)
	p.table = tbl
	return p
}

func (p *serverProxy) Start() {
	for _, d := range p.lc.Downstream {
		l, err := downstream.Listen(p.conf, p.lc, d, p.table, p.log)
		if err != nil {
			die("%s: can't listen on %s: %s", p.lc.Addr, d.Addr, err)
		}
		p.listeners = append(p.listeners, l)
	}

	dst := "stream-negotiated"
	if p.lc.Upstream != nil {
		dst = p.lc.Upstream.Addr
	}
	p.log.Info("%s: server role, %d downstream(s), upstream=%s", p.lc.Addr, len(p.listeners), dst)
}

func (p *serverProxy) Stop() {
	for _, l := range p.listeners {
		l.Stop()
	}
}
