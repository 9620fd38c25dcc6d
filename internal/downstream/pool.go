// pool.go -- client-side pool of physical downstream connections
//
// The client actively dials every configured downstream once at
// startup and keeps redialing on loss; every new local circuit is
// spread across whichever of them are connected at the moment it is
// created, which is what makes the round-robin dispatch on the mux
// side meaningful.
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package downstream

import (
	"context"
	"sync"
	"time"

	L "github.com/opencoff/go-logger"

	"github.com/jamiepg4/stegotorus/internal/config"
	"github.com/jamiepg4/stegotorus/internal/mux"
)

// Pool maintains one persistent connection per configured downstream
// entry and hands new client circuits their current membership.
type Pool struct {
	mu          sync.Mutex
	live        map[*config.DownstreamConf]*mux.Downstream
	table       *mux.Table
	connectTO   time.Duration
	log         *L.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewPool starts dialing every downstream in cfg and keeps them alive
// for the lifetime of the returned Pool.
func NewPool(cfg *config.ListenConf, table *mux.Table, log *L.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		live:      make(map[*config.DownstreamConf]*mux.Downstream),
		table:     table,
		connectTO: time.Duration(cfg.Timeout.Connect) * time.Second,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}

	for _, d := range cfg.Downstream {
		go p.maintain(d)
	}
	return p
}

func (p *Pool) Stop() { p.cancel() }

// maintain dials d, runs it until it fails, then redials with a fixed
// backoff, forever (or until the pool is stopped).
func (p *Pool) maintain(d *config.DownstreamConf) {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		down, err := Dial(p.ctx, d, p.connectTO)
		if err != nil {
			p.log.Warn("downstream %s: %s; retrying in 5s", d.Addr, err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		p.log.Info("downstream %s: connected (%s)", d.Addr, d.Adapter)
		p.mu.Lock()
		p.live[d] = down
		p.mu.Unlock()

		pump(p.table, down, p.log)

		p.mu.Lock()
		delete(p.live, d)
		p.mu.Unlock()
		p.log.Warn("downstream %s: connection lost", d.Addr)
	}
}

// NewCircuit allocates a new client circuit bridged to bridge, attached
// to every downstream currently connected.
func (p *Pool) NewCircuit(bridge mux.UpstreamBridge) *mux.Circuit {
	ckt := p.table.NewClientCircuit(bridge)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.live {
		ckt.AttachDownstream(d)
	}
	return ckt
}
