// Package config loads xbridge settings from a file, the environment and
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
)

const envPrefix = "XBRIDGE"

type Config struct {
	// Framing: "dedicated" (one port per node) or "multiplexed" (name:payload)
	Framing            string `mapstructure:"framing"`
	ListenHost         string `mapstructure:"listen_host"`
	MultiplexPort      int    `mapstructure:"multiplex_port"`
	MultiplexDelimiter string `mapstructure:"multiplex_delimiter"`
	// AdminPort 0 disables the shutdown port.
	AdminPort int    `mapstructure:"admin_port"`
	Table     string `mapstructure:"table"`

	Debounce    time.Duration `mapstructure:"debounce"`
	Tick        time.Duration `mapstructure:"tick"`
	TCPReadSize string        `mapstructure:"tcp_read_size"`

	Capture  string `mapstructure:"capture"`
	HTTPAddr string `mapstructure:"http_addr"`

	Radio RadioConfig `mapstructure:"radio"`
	Log   LogConfig   `mapstructure:"log"`
}

type RadioConfig struct {
	// Kind: "xbee" or "udpsim"
	Kind            string        `mapstructure:"kind"`
	SerialPort      string        `mapstructure:"serial_port"`
	Baud            int           `mapstructure:"baud"`
	APIEscaped      bool          `mapstructure:"api_escaped"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	RequireProbe    bool          `mapstructure:"require_probe"`
	TxStatusTimeout time.Duration `mapstructure:"tx_status_timeout"`
	// TxRate caps radio sends per second; 0 is unlimited.
	TxRate  float64 `mapstructure:"tx_rate"`
	TxBurst int     `mapstructure:"tx_burst"`
	// MTU overrides the probed payload size when positive.
	MTU int `mapstructure:"mtu"`

	UDPListen string `mapstructure:"udp_listen"`
	// UDPSelf is the extended address this gateway claims on the simulator.
	UDPSelf string `mapstructure:"udp_self"`
	// UDPPeers maps node addresses to host:port.
	UDPPeers map[string]string `mapstructure:"udp_peers"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
	// RingLines is how many lines the monitor keeps.
	RingLines int `mapstructure:"ring_lines"`
}

type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func Default() *Config {
	return &Config{
		Framing:       "multiplexed",
		MultiplexPort: 20000,
		AdminPort:     30000,
		Table:         "nodes.lua",
		Debounce:      300 * time.Millisecond,
		Tick:          50 * time.Millisecond,
		TCPReadSize:   "8KiB",
		Radio: RadioConfig{
			Kind:            "xbee",
			SerialPort:      "/dev/ttyUSB0",
			Baud:            9600,
			ProbeTimeout:    2 * time.Second,
			TxStatusTimeout: 5 * time.Second,
			TxBurst:         1,
			UDPListen:       ":9750",
			UDPSelf:         "0000000000000001",
			UDPPeers:        map[string]string{},
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "console",
			Outputs:   []string{"stderr"},
			RingLines: 1000,
			Rotation: RotationConfig{
				Filename:   "logs/xbridge.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// SearchPaths are tried in order when Load gets no path.
func SearchPaths() []string {
	paths := []string{"xbridge.yaml", "xbridge.json", ".xbridge.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "xbridge", "config.yaml"))
	}
	return paths
}

// Load reads path (or the first file found in SearchPaths), applies
// XBRIDGE_* environment overrides and validates the result. Running with no
// config file at all is fine; a file named by path or XBRIDGE_CONFIG must
// exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if explicit || !missing {
				return nil, xerrors.WrapInvalid(fmt.Errorf("read config %s: %w", path, err), "config", "load")
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, xerrors.WrapInvalid(fmt.Errorf("decode config: %w", err), "config", "load")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("framing", cfg.Framing)
	v.SetDefault("listen_host", cfg.ListenHost)
	v.SetDefault("multiplex_port", cfg.MultiplexPort)
	v.SetDefault("multiplex_delimiter", cfg.MultiplexDelimiter)
	v.SetDefault("admin_port", cfg.AdminPort)
	v.SetDefault("table", cfg.Table)
	v.SetDefault("debounce", cfg.Debounce)
	v.SetDefault("tick", cfg.Tick)
	v.SetDefault("tcp_read_size", cfg.TCPReadSize)
	v.SetDefault("capture", cfg.Capture)
	v.SetDefault("http_addr", cfg.HTTPAddr)

	v.SetDefault("radio.kind", cfg.Radio.Kind)
	v.SetDefault("radio.serial_port", cfg.Radio.SerialPort)
	v.SetDefault("radio.baud", cfg.Radio.Baud)
	v.SetDefault("radio.api_escaped", cfg.Radio.APIEscaped)
	v.SetDefault("radio.probe_timeout", cfg.Radio.ProbeTimeout)
	v.SetDefault("radio.require_probe", cfg.Radio.RequireProbe)
	v.SetDefault("radio.tx_status_timeout", cfg.Radio.TxStatusTimeout)
	v.SetDefault("radio.tx_rate", cfg.Radio.TxRate)
	v.SetDefault("radio.tx_burst", cfg.Radio.TxBurst)
	v.SetDefault("radio.mtu", cfg.Radio.MTU)
	v.SetDefault("radio.udp_listen", cfg.Radio.UDPListen)
	v.SetDefault("radio.udp_self", cfg.Radio.UDPSelf)
	v.SetDefault("radio.udp_peers", cfg.Radio.UDPPeers)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.ring_lines", cfg.Log.RingLines)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

func invalid(format string, args ...any) error {
	return xerrors.WrapInvalid(fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), xerrors.ErrInvalidConfig), "config", "validate")
}

func validPort(p int) bool { return p >= 0 && p <= 65535 }

// Validate checks ranges and normalises case.
func (c *Config) Validate() error {
	if _, err := types.ParseFramingMode(c.Framing); err != nil {
		return invalid("framing: %v", err)
	}
	if !validPort(c.MultiplexPort) {
		return invalid("multiplex_port %d out of range", c.MultiplexPort)
	}
	if !validPort(c.AdminPort) {
		return invalid("admin_port %d out of range", c.AdminPort)
	}
	if c.Mode() == types.Multiplexed && c.AdminPort != 0 && c.AdminPort == c.MultiplexPort {
		return invalid("admin_port and multiplex_port are both %d", c.AdminPort)
	}
	if strings.TrimSpace(c.Table) == "" {
		return invalid("table is required")
	}
	if c.Debounce <= 0 {
		return invalid("debounce must be positive, got %s", c.Debounce)
	}
	if c.Tick <= 0 {
		return invalid("tick must be positive, got %s", c.Tick)
	}
	if n, err := units.RAMInBytes(c.TCPReadSize); err != nil || n <= 0 {
		return invalid("tcp_read_size %q is not a byte size", c.TCPReadSize)
	}

	c.Radio.Kind = strings.ToLower(strings.TrimSpace(c.Radio.Kind))
	switch c.Radio.Kind {
	case "xbee":
		if c.Radio.SerialPort == "" {
			return invalid("radio.serial_port is required for xbee")
		}
		if c.Radio.Baud <= 0 {
			return invalid("radio.baud must be positive")
		}
	case "udpsim":
		if _, err := types.ParseNodeAddress(c.Radio.UDPSelf); err != nil {
			return invalid("radio.udp_self: %v", err)
		}
		for addr, hostport := range c.Radio.UDPPeers {
			if _, err := types.ParseNodeAddress(addr); err != nil {
				return invalid("radio.udp_peers: %v", err)
			}
			if _, _, err := net.SplitHostPort(hostport); err != nil {
				return invalid("radio.udp_peers[%s]: %v", addr, err)
			}
		}
	default:
		return invalid("radio.kind %q, want xbee or udpsim", c.Radio.Kind)
	}
	if c.Radio.TxRate < 0 {
		return invalid("radio.tx_rate must not be negative")
	}
	if c.Radio.MTU < 0 {
		return invalid("radio.mtu must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}

func (c *Config) Mode() types.FramingMode {
	m, _ := types.ParseFramingMode(c.Framing)
	return m
}

// ReadSize is tcp_read_size in bytes.
func (c *Config) ReadSize() int {
	n, err := units.RAMInBytes(c.TCPReadSize)
	if err != nil || n <= 0 {
		return 8192
	}
	return int(n)
}

func (c *Config) MultiplexAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.MultiplexPort))
}

// AdminAddr is empty when the admin port is disabled.
func (c *Config) AdminAddr() string {
	if c.AdminPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.AdminPort))
}

// UDPPeerTable converts udp_peers into extended address keys.
func (c *Config) UDPPeerTable() (map[uint64]string, error) {
	out := make(map[uint64]string, len(c.Radio.UDPPeers))
	for k, v := range c.Radio.UDPPeers {
		a, err := types.ParseNodeAddress(k)
		if err != nil {
			return nil, err
		}
		out[a.Extended] = v
	}
	return out, nil
}
