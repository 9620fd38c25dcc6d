// tls.go -- server-side tls.Config construction, including SNI dispatch
//
// Grounded on the teacher's getSNIHandler in gotun/server.go.
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package downstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"os"
	"path"

	L "github.com/opencoff/go-logger"

	"github.com/jamiepg4/stegotorus/internal/config"
)

func loadCAPool(fn string) (*x509.CertPool, error) {
	pem, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("can't read CA bundle %s: %w", fn, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s: no usable CA certs", fn)
	}
	return pool, nil
}

// ServerTLSConfig builds the tls.Config for a downstream listener,
// wiring up an SNI certificate handler when the config asks for one.
func ServerTLSConfig(conf *config.Conf, t *config.TlsServerConf, log *L.Logger) (*tls.Config, error) {
	cfg := &tls.Config{}

	if len(t.Cert) > 0 && len(t.Key) > 0 {
		cert, err := LoadX509KeyPair(conf.Path(t.Cert), conf.Path(t.Key), t.KeyPasswd)
		if err != nil {
			return nil, fmt.Errorf("tls server cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if len(t.Sni) > 0 {
		dir := conf.Path(t.Sni)
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("sni dir %s is not a directory", dir)
		}
		cfg.GetCertificate = sniHandler(conf, dir, log)
	}

	if len(t.ClientCA) > 0 {
		pool, err := loadCAPool(conf.Path(t.ClientCA))
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// sniHandler picks a certificate by SNI hostname from dir/<name>.crt and
// dir/<name>.key, rejecting any pair with unsafe file permissions.
func sniHandler(conf *config.Conf, dir string, log *L.Logger) func(h *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(h *tls.ClientHelloInfo) (*tls.Certificate, error) {
		crt := path.Join(dir, h.ServerName+".crt")
		key := path.Join(dir, h.ServerName+".key")

		if err := conf.IsFileSafe(crt); err != nil {
			log.Warn("insecure perms on %s, skipping ..", crt)
			return nil, fmt.Errorf("%s: no usable cert", h.ServerName)
		}
		if err := conf.IsFileSafe(key); err != nil {
			log.Warn("insecure perms on %s, skipping ..", key)
			return nil, fmt.Errorf("%s: no usable key", h.ServerName)
		}

		cert, err := LoadX509KeyPair(crt, key, "")
		if err != nil {
			return nil, err
		}
		log.Debug("SNI: %s -> {%s, %s}", h.ServerName, crt, key)
		return &cert, nil
	}
}
