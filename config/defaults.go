package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultDevice is the device name used when none is given.
	DefaultDevice = "HC-06"

	// DefaultBaud is the factory line rate of HC-05/HC-06 modules.
	DefaultBaud = 9600

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultBridgePort is the raw-mode port of a ser2net style bridge.
	DefaultBridgePort = 4000

	// DefaultPollInterval is how long the read loop sleeps after a read
	// that found no data.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultReadTimeout bounds a single transport read (serial driver
	// timeout, TCP read deadline or pump window).
	DefaultReadTimeout = 100 * time.Millisecond

	// DefaultChunkSize is the largest single read.
	DefaultChunkSize = 32

	// DefaultMaxPending bounds the unterminated inbound tail.
	DefaultMaxPending = 4096

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a command write on network transports.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultRepeatRate limits held-key auto-repeat, in commands per
	// second.
	DefaultRepeatRate = 20.0

	// DefaultRepeatBurst is how many key presses may pass at once.
	DefaultRepeatBurst = 4

	// DefaultRetryDelay is the first pause between connect attempts
	// when --retries is set.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay caps the pause between connect attempts.
	DefaultMaxRetryDelay = 5 * time.Second
)

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Device:       DefaultDevice,
		Baud:         DefaultBaud,
		PollInterval: DefaultPollInterval,
		ReadTimeout:  DefaultReadTimeout,
		ChunkSize:    DefaultChunkSize,
		MaxPending:   DefaultMaxPending,
		ConnTimeout:  DefaultConnTimeout,
		WriteTimeout: DefaultWriteTimeout,
		RepeatRate:   DefaultRepeatRate,
		RepeatBurst:  DefaultRepeatBurst,
	}
}
