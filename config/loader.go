package config

// loader.go - configuration loading from a TOML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ── Config file ──────────────────────────────────────────────────────

// fileConfig mirrors the TOML layout.  Pointer fields distinguish
// "absent" from a zero value.
type fileConfig struct {
	Device       string         `toml:"default_device"`
	Baud         *int           `toml:"baud"`
	PollInterval *time.Duration `toml:"poll_interval"`
	ReadTimeout  *time.Duration `toml:"read_timeout"`
	ChunkSize    *int           `toml:"chunk_size"`
	MaxPending   *int           `toml:"max_pending"`
	ConnTimeout  *time.Duration `toml:"connect_timeout"`
	WriteTimeout *time.Duration `toml:"write_timeout"`
	Retries      *int           `toml:"retries"`
	RepeatRate   *float64       `toml:"repeat_rate"`
	RepeatBurst  *int           `toml:"repeat_burst"`
	Verbose      *int           `toml:"verbose"`

	SSH struct {
		Key           string `toml:"key"`
		Password      bool   `toml:"password"`
		Agent         bool   `toml:"agent"`
		StrictHostKey bool   `toml:"strict_hostkey"`
		KnownHosts    string `toml:"known_hosts"`
	} `toml:"ssh"`

	Devices []DeviceConfig `toml:"device"`
}

// DefaultPath returns $XDG_CONFIG_HOME/rclink/config.toml (or the
// platform equivalent), or "" if no config directory is known.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rclink", "config.toml")
}

// LoadFile overlays the TOML file at path onto cfg.  A missing file is
// not an error when optional is true.  Unknown keys are rejected so a
// typo does not silently fall back to a default.
func LoadFile(cfg *Config, path string, optional bool) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if fc.Device != "" {
		cfg.Device = fc.Device
	}
	setInt(&cfg.Baud, fc.Baud)
	setDuration(&cfg.PollInterval, fc.PollInterval)
	setDuration(&cfg.ReadTimeout, fc.ReadTimeout)
	setInt(&cfg.ChunkSize, fc.ChunkSize)
	setInt(&cfg.MaxPending, fc.MaxPending)
	setDuration(&cfg.ConnTimeout, fc.ConnTimeout)
	setDuration(&cfg.WriteTimeout, fc.WriteTimeout)
	setInt(&cfg.Retries, fc.Retries)
	setInt(&cfg.RepeatBurst, fc.RepeatBurst)
	setInt(&cfg.Verbose, fc.Verbose)
	if fc.RepeatRate != nil {
		cfg.RepeatRate = *fc.RepeatRate
	}

	if fc.SSH.Key != "" {
		cfg.SSHKeyPath = fc.SSH.Key
	}
	if fc.SSH.KnownHosts != "" {
		cfg.KnownHostsPath = fc.SSH.KnownHosts
	}
	cfg.SSHPassword = cfg.SSHPassword || fc.SSH.Password
	cfg.UseSSHAgent = cfg.UseSSHAgent || fc.SSH.Agent
	cfg.StrictHostKey = cfg.StrictHostKey || fc.SSH.StrictHostKey

	cfg.Devices = append(cfg.Devices, fc.Devices...)
	cfg.ConfigPath = path
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the RCLINK_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("250ms") or a bare number of milliseconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("RCLINK_DEVICE"); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv("RCLINK_SERIAL"); v != "" {
		cfg.Serial = v
	}
	if v := envInt("RCLINK_BAUD"); v > 0 {
		cfg.Baud = v
	}
	if v := os.Getenv("RCLINK_BRIDGE"); v != "" {
		cfg.Bridge = v
	}

	// Session
	if v := envDuration("RCLINK_POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}
	if v := envDuration("RCLINK_READ_TIMEOUT"); v > 0 {
		cfg.ReadTimeout = v
	}
	if v := envInt("RCLINK_CHUNK_SIZE"); v > 0 {
		cfg.ChunkSize = v
	}
	if v, ok := os.LookupEnv("RCLINK_MAX_PENDING"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxPending = n
		}
	}
	if v := envDuration("RCLINK_CONNECT_TIMEOUT"); v > 0 {
		cfg.ConnTimeout = v
	}
	if v := envInt("RCLINK_RETRIES"); v > 0 {
		cfg.Retries = v
	}

	// SSH tunnel
	if v := os.Getenv("RCLINK_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("RCLINK_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("RCLINK_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("RCLINK_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("RCLINK_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("RCLINK_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if envBool("RCLINK_LINE_MODE") {
		cfg.LineMode = true
	}
	if v := envInt("RCLINK_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}
