package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Device(t *testing.T) {
	t.Setenv("RCLINK_DEVICE", "rover")
	t.Setenv("RCLINK_SERIAL", "/dev/ttyUSB0")
	t.Setenv("RCLINK_BAUD", "115200")
	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, "rover", cfg.Device)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial)
	assert.Equal(t, 115200, cfg.Baud)
}

func TestLoadFromEnv_Durations(t *testing.T) {
	t.Setenv("RCLINK_POLL_INTERVAL", "25ms")
	t.Setenv("RCLINK_READ_TIMEOUT", "250")
	t.Setenv("RCLINK_CONNECT_TIMEOUT", "garbage")
	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, 25*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout, "bare numbers are milliseconds")
	assert.Equal(t, DefaultConnTimeout, cfg.ConnTimeout, "invalid value is ignored")
}

func TestLoadFromEnv_MaxPendingZero(t *testing.T) {
	t.Setenv("RCLINK_MAX_PENDING", "0")
	cfg := Default()
	LoadFromEnv(cfg)
	assert.Zero(t, cfg.MaxPending, "0 means unbounded")
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "TRUE", "Yes"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("RCLINK_SSH_AGENT", v)
			t.Setenv("RCLINK_LINE_MODE", v)
			cfg := Default()
			LoadFromEnv(cfg)
			assert.True(t, cfg.UseSSHAgent)
			assert.True(t, cfg.LineMode)
		})
	}
}

func TestLoadFromEnv_EmptyDoesNotOverride(t *testing.T) {
	t.Setenv("RCLINK_DEVICE", "")
	cfg := Default()
	LoadFromEnv(cfg)
	assert.Equal(t, DefaultDevice, cfg.Device)
}

func TestLoadFromEnv_InvalidInt(t *testing.T) {
	t.Setenv("RCLINK_BAUD", "fast")
	cfg := Default()
	LoadFromEnv(cfg)
	assert.Equal(t, DefaultBaud, cfg.Baud)
}

const sampleFile = `
default_device = "rover"
max_pending = 0
poll_interval = "20ms"
retries = 3

[ssh]
agent = true
known_hosts = "/tmp/known_hosts"

[[device]]
name = "HC-06"
path = "/dev/rfcomm0"

[[device]]
name = "rover"
transport = "ssh"
address = "127.0.0.1:4000"
tunnel = "pi@rover.local"
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, sampleFile)
	cfg := Default()
	require.NoError(t, LoadFile(cfg, path, false))

	assert.Equal(t, "rover", cfg.Device)
	assert.Zero(t, cfg.MaxPending, "explicit zero overrides the default")
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3, cfg.Retries)
	assert.True(t, cfg.UseSSHAgent)
	assert.Equal(t, "/tmp/known_hosts", cfg.KnownHostsPath)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize, "absent key keeps the default")
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "ssh", cfg.Devices[1].Transport)
	assert.Equal(t, path, cfg.ConfigPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, "max_pendng = 10\n")
	assert.ErrorContains(t, LoadFile(Default(), path, false), "max_pendng")
}

func TestLoadFile_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")
	assert.NoError(t, LoadFile(Default(), missing, true), "optional missing file is ignored")
	assert.Error(t, LoadFile(Default(), missing, false), "explicit missing file fails")
}

func TestLoadFile_Syntax(t *testing.T) {
	path := writeFile(t, "baud = \n")
	assert.Error(t, LoadFile(Default(), path, false))
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	assert.Equal(t, filepath.Join(dir, "rclink", "config.toml"), DefaultPath())
}
