// Package config defines the runtime configuration for rclink and
// provides helpers for parsing tunnel specifications and building the
// device table.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ncerr "rclink/internal/errors"
	"rclink/internal/transport"
	"rclink/tunnel"
)

// Config holds every tuneable for a controller run.
type Config struct {
	// ── Device ───────────────────────────────────────────────────────
	Device  string         // positional: name to look up in Devices
	Devices []DeviceConfig // [[device]] table from the config file
	Serial  string         // --serial: ad-hoc serial device node
	Baud    int
	Bridge  string // --bridge: ad-hoc TCP serial bridge host[:port]

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Session ──────────────────────────────────────────────────────
	PollInterval time.Duration
	ReadTimeout  time.Duration
	ChunkSize    int
	MaxPending   int // 0 disables the bound
	ConnTimeout  time.Duration
	WriteTimeout time.Duration

	// ── Console ──────────────────────────────────────────────────────
	Retries     int  // extra connect attempts after a failure
	LineMode    bool // read commands line by line even on a terminal
	RepeatRate  float64
	RepeatBurst int

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Stats      bool
	ConfigPath string
}

// DeviceConfig is one [[device]] entry of the config file.
type DeviceConfig struct {
	Name      string `toml:"name"`
	Transport string `toml:"transport"` // serial, tcp or ssh
	Path      string `toml:"path"`
	Baud      int    `toml:"baud"`
	Address   string `toml:"address"`
	Tunnel    string `toml:"tunnel"` // [user@]host[:port]
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "pi@rover.local:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Device table ─────────────────────────────────────────────────────

// SSHConfig returns the gateway settings for spec, combined with the
// SSH options of c.
func (c *Config) SSHConfig(spec string) (*tunnel.SSHConfig, error) {
	user, host, port, err := ParseTunnelSpec(spec)
	if err != nil {
		return nil, err
	}
	return &tunnel.SSHConfig{
		User:          user,
		Host:          host,
		Port:          port,
		KeyPath:       c.SSHKeyPath,
		PromptPass:    c.SSHPassword,
		UseAgent:      c.UseSSHAgent,
		StrictHostKey: c.StrictHostKey,
		KnownHosts:    c.KnownHostsPath,
		ConnTimeout:   c.ConnTimeout,
	}, nil
}

// Specs builds the device table the Finder resolves names against.
//
// An ad-hoc --serial or --bridge device is registered under c.Device
// and shadows any table entry of that name.  Without a table the
// built-in HC-06 entry is used.
func (c *Config) Specs() ([]transport.Spec, error) {
	var specs []transport.Spec

	if adhoc, ok, err := c.adHocSpec(); err != nil {
		return nil, err
	} else if ok {
		specs = append(specs, adhoc)
	}

	for _, d := range c.Devices {
		s, err := c.deviceSpec(d)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}

	if len(c.Devices) == 0 {
		specs = append(specs, transport.DefaultSpecs()...)
	}
	return specs, nil
}

func (c *Config) adHocSpec() (transport.Spec, bool, error) {
	switch {
	case c.Serial != "":
		return transport.Spec{Name: c.Device, Kind: transport.KindSerial, Path: c.Serial, Baud: c.Baud}, true, nil
	case c.Bridge != "" && c.TunnelSpec != "":
		tcfg, err := c.SSHConfig(c.TunnelSpec)
		if err != nil {
			return transport.Spec{}, false, fmt.Errorf("tunnel: %w", err)
		}
		return transport.Spec{Name: c.Device, Kind: transport.KindSSH, Address: c.Bridge, Tunnel: tcfg}, true, nil
	case c.Bridge != "":
		return transport.Spec{Name: c.Device, Kind: transport.KindTCP, Address: c.Bridge}, true, nil
	}
	return transport.Spec{}, false, nil
}

func (c *Config) deviceSpec(d DeviceConfig) (transport.Spec, error) {
	kind := transport.Kind(strings.ToLower(d.Transport))
	if kind == "" {
		kind = transport.KindSerial
	}
	s := transport.Spec{Name: d.Name, Kind: kind, Path: d.Path, Baud: d.Baud, Address: d.Address}
	if s.Baud == 0 {
		s.Baud = c.Baud
	}
	if d.Tunnel != "" {
		tcfg, err := c.SSHConfig(d.Tunnel)
		if err != nil {
			return transport.Spec{}, fmt.Errorf("device %q: %w", d.Name, err)
		}
		s.Tunnel = tcfg
	}
	return s, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return &ncerr.ConfigError{
			Field:   "device",
			Message: "a device name is required",
			Hint:    "pass it as the first argument, e.g. rclink HC-06",
		}
	}
	if c.Serial != "" && c.Bridge != "" {
		return &ncerr.ConfigError{
			Field:   "serial",
			Value:   c.Serial,
			Message: "--serial and --bridge are mutually exclusive",
		}
	}
	if c.TunnelSpec != "" && c.Bridge == "" {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: "an SSH tunnel needs a bridge to reach",
			Hint:    "add --bridge host:port as seen from the gateway",
		}
	}
	if c.Baud <= 0 {
		return &ncerr.ConfigError{
			Field:   "baud",
			Value:   c.Baud,
			Message: "must be positive",
			Hint:    fmt.Sprintf("HC-06 modules default to %d", DefaultBaud),
		}
	}
	if c.ChunkSize <= 0 {
		return &ncerr.ConfigError{Field: "chunk-size", Value: c.ChunkSize, Message: "must be positive"}
	}
	if c.MaxPending < 0 {
		return &ncerr.ConfigError{
			Field:   "max-pending",
			Value:   c.MaxPending,
			Message: "must not be negative",
			Hint:    "use 0 to disable the bound",
		}
	}
	if c.PollInterval <= 0 {
		return &ncerr.ConfigError{Field: "poll-interval", Value: c.PollInterval, Message: "must be positive"}
	}
	if c.ReadTimeout <= 0 {
		return &ncerr.ConfigError{Field: "read-timeout", Value: c.ReadTimeout, Message: "must be positive"}
	}
	if c.Retries < 0 {
		return &ncerr.ConfigError{Field: "retries", Value: c.Retries, Message: "must not be negative"}
	}
	if c.RepeatRate < 0 || c.RepeatBurst < 0 {
		return &ncerr.ConfigError{
			Field:   "repeat-rate",
			Value:   c.RepeatRate,
			Message: "rate and burst must not be negative",
			Hint:    "use 0 to disable key-repeat limiting",
		}
	}

	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if seen[d.Name] {
			return &ncerr.ConfigError{Field: "device.name", Value: d.Name, Message: "duplicate device name"}
		}
		seen[d.Name] = true
	}

	specs, err := c.Specs()
	if err != nil {
		return err
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
