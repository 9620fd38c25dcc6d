// config.go -- config file processing
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package config

import (
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"net"
	"path"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// Role selects which side of the circuit handshake this process plays,
// or whether it is a SOCKS front end feeding an upstream client role.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
	RoleSocks  Role = "socks"
)

// Conf is the top-level configuration: process-wide logging plus one
// or more listeners.
type Conf struct {
	Logging  string        `yaml:"log"`
	LogLevel string        `yaml:"loglevel"`
	Uid      string        `yaml:"uid"`
	Gid      string        `yaml:"gid"`
	ConfDir  string        `yaml:"config-dir"`
	Listen   []*ListenConf `yaml:"listen"`
}

// ListenConf is one circuit-mux endpoint: how it accepts connections,
// which role it plays, the downstream connections it multiplexes
// blocks over, and the upstream it bridges reassembled bytes to.
type ListenConf struct {
	Addr    string   `yaml:"address"`
	Role    Role     `yaml:"role"`
	Allow   []subnet `yaml:"allow"`
	Deny    []subnet `yaml:"deny"`
	Timeout Timeouts `yaml:"timeout"`

	// AxeMillis is how long, in milliseconds, a circuit with no
	// attached downstreams waits for a reconnect before it is torn
	// down. Zero means "use the core's default" (100ms).
	AxeMillis int `yaml:"axe-timeout-ms"`

	// Downstream connections this listener multiplexes blocks over.
	// A circuit's blocks are round-robined across all of them.
	Downstream []*DownstreamConf `yaml:"downstream"`

	// Ratelimit on downstream connections accepted by a server-role
	// listener.
	Ratelimit *RateLimit `yaml:"ratelimit"`

	// Tls names the server certificate (and, optionally, an SNI
	// certstore or client-auth CA) used by every TLS-enabled entry in
	// Downstream for a server-role listener.
	Tls *TlsServerConf `yaml:"tls"`

	// Upstream is where reassembled bytes are bridged to. If unset on
	// a server-role listener, each circuit's destination is instead
	// read from the first bytes of the reassembled stream (the
	// socks-fronted-client case).
	Upstream *ConnectConf `yaml:"upstream"`

	// SharedSecret names a file containing key material consumed only
	// by optional encryption, which is outside the core's scope. The
	// core itself never reads its contents.
	SharedSecret string `yaml:"shared-secret"`

	Trace             bool `yaml:"trace"`
	Persist           bool `yaml:"persist"`
	DisableRetransmit bool `yaml:"disable-retransmit"`

	MaxPending string `yaml:"max-pending"`

	serverCfg *tls.Config
}

// DownstreamConf names one connection a circuit may be spread across,
// tagged with the adapter that transforms its blocks into cover
// traffic.
type DownstreamConf struct {
	Addr    string `yaml:"address"`
	Adapter string `yaml:"adapter"` // "nosteg" or "httpcover"
	Quic    bool   `yaml:"quic"`
	Tls     *TlsClientConf `yaml:"tls"`

	// Host header value the httpcover adapter presents when framing
	// its cover traffic; unused by nosteg.
	CoverHost string `yaml:"cover-host"`
}

type RateLimit struct {
	Global  int `yaml:"global"`
	PerHost int `yaml:"perhost"`
}

type subnet struct {
	net.IPNet
}

// Timeouts holds various timeouts, expressed in seconds.
type Timeouts struct {
	Connect int `yaml:"connect"`
	Read    int `yaml:"read"`
	Write   int `yaml:"write"`
}

// ConnectConf describes an upstream destination. On a server-role
// listener it is what a bridge dials once a circuit's SYN block
// establishes it; on a client-role listener its address is the
// destination sent over each new circuit.
type ConnectConf struct {
	Addr string         `yaml:"address"`
	Bind string         `yaml:"bind"`
	Tls  *TlsClientConf `yaml:"tls"`
}

type TlsServerConf struct {
	Sni        string `yaml:"sni"`
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	KeyPasswd  string `yaml:"key-password"`
	ClientCert string `yaml:"client-auth"`
	ClientCA   string `yaml:"client-ca"`
}

type TlsClientConf struct {
	Ca     string `yaml:"ca"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
	Server string `yaml:"servername"`
}

// ReadYAML parses a config file and returns a validated, defaulted Conf.
func ReadYAML(fn string) (*Conf, error) {
	yml, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("can't read config file %s: %s", fn, err)
	}

	var cfg Conf
	if err = yaml.Unmarshal(yml, &cfg); err != nil {
		return nil, fmt.Errorf("can't parse config file %s: %s", fn, err)
	}

	if len(cfg.ConfDir) == 0 {
		cfg.ConfDir = path.Dir(fn)
	}

	if err = validate(&cfg); err != nil {
		return nil, err
	}
	return defaults(&cfg), nil
}

func defaults(c *Conf) *Conf {
	for _, l := range c.Listen {
		if l.Ratelimit == nil {
			l.Ratelimit = &RateLimit{}
		}
		if l.Ratelimit.Global <= 0 {
			l.Ratelimit.Global = 1000
		}
		if l.Ratelimit.PerHost <= 0 {
			l.Ratelimit.PerHost = 10
		}

		t := &l.Timeout
		if t.Connect == 0 {
			t.Connect = 5
		}
		if t.Read == 0 {
			t.Read = 30
		}
		if t.Write == 0 {
			t.Write = 30
		}

		for _, d := range l.Downstream {
			if len(d.Adapter) == 0 {
				d.Adapter = "nosteg"
			}
		}
	}

	if len(c.LogLevel) == 0 {
		c.LogLevel = "INFO"
	}
	if len(c.Logging) == 0 {
		c.Logging = "SYSLOG"
	}
	return c
}

func validate(conf *Conf) error {
	for _, l := range conf.Listen {
		if len(l.Addr) == 0 {
			return fmt.Errorf("listener is missing an address")
		}
		if i := strings.IndexByte(l.Addr, ':'); i < 0 {
			return fmt.Errorf("%s: listen address is missing port", l.Addr)
		}

		switch l.Role {
		case RoleClient, RoleServer, RoleSocks:
		case "":
			return fmt.Errorf("%s: missing role (client, server, or socks)", l.Addr)
		default:
			return fmt.Errorf("%s: unknown role %q", l.Addr, l.Role)
		}

		if l.Role == RoleServer && len(l.Downstream) == 0 {
			return fmt.Errorf("%s: server role requires at least one downstream", l.Addr)
		}
		if (l.Role == RoleClient || l.Role == RoleSocks) && len(l.Downstream) == 0 {
			return fmt.Errorf("%s: %s role requires at least one downstream", l.Addr, l.Role)
		}

		for _, d := range l.Downstream {
			if len(d.Addr) == 0 {
				return fmt.Errorf("%s: downstream entry missing address", l.Addr)
			}
			switch d.Adapter {
			case "", "nosteg", "httpcover":
			default:
				return fmt.Errorf("%s: unknown adapter %q for downstream %s", l.Addr, d.Adapter, d.Addr)
			}
		}

		// A server listener with no fixed Upstream dials whatever
		// destination the circuit itself carries in its first bytes
		// (the socks-fronted-client case); Upstream just pins it to
		// one fixed address instead.
	}
	return nil
}

// UnmarshalYAML lets a CIDR string be used directly as an allow/deny entry.
func (s *subnet) UnmarshalYAML(unm func(v interface{}) error) error {
	var str string
	if err := unm(&str); err != nil {
		return err
	}
	_, n, err := net.ParseCIDR(str)
	if err == nil {
		s.IP = n.IP
		s.Mask = n.Mask
	}
	return err
}

// Path turns a possibly-relative name into an absolute one, rooted at
// the directory the config file itself lives in.
func (c *Conf) Path(nm string) string {
	if path.IsAbs(nm) {
		return nm
	}
	return path.Join(c.ConfDir, nm)
}

// Dump writes a human-readable summary of the parsed config.
func (c *Conf) Dump(w interface{ Write([]byte) (int, error) }) {
	for _, l := range c.Listen {
		fmt.Fprintf(w, "listen %s role=%s downstreams=%d\n", l.Addr, l.Role, len(l.Downstream))
		for _, d := range l.Downstream {
			fmt.Fprintf(w, "  -> %s adapter=%s quic=%v\n", d.Addr, d.Adapter, d.Quic)
		}
	}
}
