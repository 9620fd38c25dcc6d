// conn.go -- opening one physical downstream connection: TCP, TLS, or Quic
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

	"github.com/jamiepg4/stegotorus/internal/config"
	"github.com/jamiepg4/stegotorus/internal/mux"
	"github.com/jamiepg4/stegotorus/internal/steg"
)

const bufSize = 65536

// qConn wraps a single long-lived quic stream as a net.Conn, the way a
// downstream link is otherwise just one TCP or TLS socket.
type qConn struct {
	quic.Stream
	sess quic.Connection
}

func (c *qConn) LocalAddr() net.Addr  { return c.sess.LocalAddr() }
func (c *qConn) RemoteAddr() net.Addr { return c.sess.RemoteAddr() }

// Dial opens one downstream connection to d.Addr per the transport and
// TLS settings in d, and wraps it with the steg adapter d.Adapter
// names.
func Dial(ctx context.Context, d *config.DownstreamConf, connectTimeout time.Duration) (*mux.Downstream, error) {
	conn, err := dialConn(ctx, d, connectTimeout)
	if err != nil {
		return nil, err
	}
	return mux.NewDownstream(wrapAdapter(conn, d.Adapter, d.CoverHost, false)), nil
}

func dialConn(ctx context.Context, d *config.DownstreamConf, connectTimeout time.Duration) (net.Conn, error) {
	if d.Quic {
		return dialQuic(ctx, d)
	}

	nd := &net.Dialer{Timeout: connectTimeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("can't dial %s: %w", d.Addr, err)
	}

	if d.Tls != nil {
		tlsCfg, err := clientTLSConfig(d.Tls)
		if err != nil {
			conn.Close()
			return nil, err
		}
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", d.Addr, err)
		}
		return tc, nil
	}
	return conn, nil
}

func dialQuic(ctx context.Context, d *config.DownstreamConf) (net.Conn, error) {
	var tlsCfg *tls.Config
	var err error
	if d.Tls != nil {
		tlsCfg, err = clientTLSConfig(d.Tls)
		if err != nil {
			return nil, err
		}
	} else {
		tlsCfg = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"stegotorus"}}
	}

	sess, err := quic.DialAddr(ctx, d.Addr, tlsCfg, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("quic: can't dial %s: %w", d.Addr, err)
	}

	stream, err := sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("quic: can't open stream to %s: %w", d.Addr, err)
	}

	return &qConn{Stream: stream, sess: sess}, nil
}

// wrapAdapter picks the steg cover module for a freshly-opened
// downstream connection.
func wrapAdapter(conn net.Conn, adapter, coverHost string, isServer bool) mux.Adapter {
	switch adapter {
	case "httpcover":
		return steg.NewHTTPCover(conn, isServer, coverHost)
	default:
		return steg.NewIdentity(conn)
	}
}

func clientTLSConfig(t *config.TlsClientConf) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: t.Server}
	if len(t.Cert) > 0 && len(t.Key) > 0 {
		cert, err := LoadX509KeyPair(t.Cert, t.Key, "")
		if err != nil {
			return nil, fmt.Errorf("tls client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if len(t.Ca) > 0 {
		pool, err := loadCAPool(t.Ca)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
