package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, types.Multiplexed, cfg.Mode())
	assert.Equal(t, 8192, cfg.ReadSize())
	assert.Equal(t, ":20000", cfg.MultiplexAddr())
	assert.Equal(t, ":30000", cfg.AdminAddr())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "xbridge.yaml", `
framing: dedicated
listen_host: 127.0.0.1
admin_port: 0
table: nodes.yaml
debounce: 150ms
tcp_read_size: 16KiB
radio:
  kind: udpsim
  udp_self: "00:00:00:00:00:00:00:0a"
  udp_peers:
    "0013a20040a1b2c3": 127.0.0.1:9751
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, types.DedicatedPort, cfg.Mode())
	assert.Equal(t, 150*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 50*time.Millisecond, cfg.Tick, "unset keys keep defaults")
	assert.Equal(t, 16384, cfg.ReadSize())
	assert.Empty(t, cfg.AdminAddr())
	assert.Equal(t, "udpsim", cfg.Radio.Kind)
	assert.Equal(t, "json", cfg.Log.Format)

	peers, err := cfg.UDPPeerTable()
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{0x0013a20040a1b2c3: "127.0.0.1:9751"}, peers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "xbridge.yaml", "radio:\n  baud: 9600\n")
	t.Setenv("XBRIDGE_RADIO_BAUD", "115200")
	t.Setenv("XBRIDGE_MULTIPLEX_PORT", "21000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 115200, cfg.Radio.Baud)
	assert.Equal(t, 21000, cfg.MultiplexPort)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", dir)
	t.Setenv("XBRIDGE_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Debounce, cfg.Debounce)
	assert.Equal(t, Default().MultiplexPort, cfg.MultiplexPort)
}

func TestLoad_NamedFileMustExist(t *testing.T) {
	absent := filepath.Join(t.TempDir(), "absent.yaml")

	tests := []struct {
		name string
		arg  string
		env  string
	}{
		{"flag", absent, ""},
		{"environment", "", absent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XBRIDGE_CONFIG", tt.env)
			_, err := Load(tt.arg)
			require.Error(t, err)
			assert.True(t, xerrors.IsInvalid(err))
			assert.Contains(t, err.Error(), "absent.yaml")
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"framing", func(c *Config) { c.Framing = "carrier-pigeon" }},
		{"port range", func(c *Config) { c.MultiplexPort = 70000 }},
		{"admin collides", func(c *Config) { c.AdminPort = c.MultiplexPort }},
		{"no table", func(c *Config) { c.Table = " " }},
		{"zero debounce", func(c *Config) { c.Debounce = 0 }},
		{"zero tick", func(c *Config) { c.Tick = 0 }},
		{"read size", func(c *Config) { c.TCPReadSize = "lots" }},
		{"radio kind", func(c *Config) { c.Radio.Kind = "lora" }},
		{"serial port", func(c *Config) { c.Radio.SerialPort = "" }},
		{"udp self", func(c *Config) { c.Radio.Kind = "udpsim"; c.Radio.UDPSelf = "nope" }},
		{"udp peer", func(c *Config) {
			c.Radio.Kind = "udpsim"
			c.Radio.UDPPeers = map[string]string{"0000000000000002": "no-port"}
		}},
		{"tx rate", func(c *Config) { c.Radio.TxRate = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, xerrors.IsInvalid(err))
			assert.ErrorIs(t, err, xerrors.ErrInvalidConfig)
		})
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := writeFile(t, "xbridge.yaml", "framing: [unterminated\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, xerrors.IsInvalid(err))
}

// chdir stands in for testing.T.Chdir (Go 1.24+): it changes the working
// directory for the duration of the test and restores it afterwards.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
