// config_test.go -- YAML parsing, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0700); err != nil {
		t.Fatalf("chmod tempdir: %s", err)
	}
	fn := filepath.Join(dir, "rrtun.yaml")
	if err := os.WriteFile(fn, []byte(body), 0600); err != nil {
		t.Fatalf("write tempfile: %s", err)
	}
	return fn
}

func TestReadYAMLDefaultsAndValidation(t *testing.T) {
	assert := newAsserter(t)

	fn := writeTempConfig(t, `
listen:
  - address: 0.0.0.0:9000
    role: server
    upstream:
      address: 127.0.0.1:8000
    downstream:
      - address: 10.0.0.1:5000
      - address: 10.0.0.2:5000
        adapter: httpcover
`)

	c, err := ReadYAML(fn)
	assert(err == nil, "read yaml: %s", err)
	assert(len(c.Listen) == 1, "expected one listener")

	l := c.Listen[0]
	assert(l.Role == RoleServer, "role should be server, got %s", l.Role)
	assert(l.Ratelimit.Global == 1000, "global ratelimit default")
	assert(l.Ratelimit.PerHost == 10, "per-host ratelimit default")
	assert(l.Timeout.Connect == 5, "connect timeout default")
	assert(l.Downstream[0].Adapter == "nosteg", "first downstream should default to nosteg")
	assert(l.Downstream[1].Adapter == "httpcover", "second downstream should keep its explicit adapter")
	assert(c.LogLevel == "INFO", "log level default")
}

func TestReadYAMLMissingRoleRejected(t *testing.T) {
	assert := newAsserter(t)

	fn := writeTempConfig(t, `
listen:
  - address: 0.0.0.0:9000
    downstream:
      - address: 10.0.0.1:5000
`)
	_, err := ReadYAML(fn)
	assert(err != nil, "missing role should fail validation")
}

func TestReadYAMLServerWithoutUpstreamIsDynamicDial(t *testing.T) {
	assert := newAsserter(t)

	fn := writeTempConfig(t, `
listen:
  - address: 0.0.0.0:9000
    role: server
    downstream:
      - address: 10.0.0.1:5000
`)
	cfg, err := ReadYAML(fn)
	assert(err == nil, "server role without upstream should be valid: %s", err)
	assert(cfg.Listen[0].Upstream == nil, "expected no fixed upstream")
}

func TestReadYAMLUnknownAdapterRejected(t *testing.T) {
	assert := newAsserter(t)

	fn := writeTempConfig(t, `
listen:
  - address: 0.0.0.0:9000
    role: client
    downstream:
      - address: 10.0.0.1:5000
        adapter: quantum-flux
`)
	_, err := ReadYAML(fn)
	assert(err != nil, "unknown adapter tag should fail validation")
}

func TestIsFileSafeRejectsWorldWritable(t *testing.T) {
	assert := newAsserter(t)

	dir := t.TempDir()
	assert(os.Chmod(dir, 0700) == nil, "chmod dir")
	fn := filepath.Join(dir, "secret")
	assert(os.WriteFile(fn, []byte("x"), 0600) == nil, "write file")

	c := &Conf{ConfDir: dir}
	assert(c.IsFileSafe("secret") == nil, "0600 file should be considered safe")

	assert(os.Chmod(fn, 0666) == nil, "chmod file world-writable")
	assert(c.IsFileSafe("secret") != nil, "world-writable file should be rejected")
}
