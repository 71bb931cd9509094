// Package cmd wires up the CLI flags and starts the controller console.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"rclink/config"
	"rclink/console"
	"rclink/internal/metrics"
	"rclink/internal/session"
	"rclink/internal/transport"
	"rclink/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X rclink/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the controller.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	// ── file and environment (flags override both) ───────────────
	cfg := config.Default()
	path, explicit := configPath(args)
	if path != "" {
		if err := config.LoadFile(cfg, path, !explicit); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("rclink", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── device ───────────────────────────────────────────────────
	var configFlag string // consumed by configPath before parsing
	fs.StringVar(&configFlag, "config", path, "Config file (TOML)")
	fs.StringVar(&cfg.Serial, "serial", cfg.Serial, "Serial device node, bypassing the device table")
	fs.IntVarP(&cfg.Baud, "baud", "b", cfg.Baud, "Serial line rate")
	fs.StringVar(&cfg.Bridge, "bridge", cfg.Bridge, "TCP serial bridge host[:port], bypassing the device table")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach --bridge via SSH [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── session ──────────────────────────────────────────────────
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Pause after an empty read")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Longest wait inside one read")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Largest single read in bytes")
	fs.IntVar(&cfg.MaxPending, "max-pending", cfg.MaxPending, "Disconnect past this many unterminated bytes (0 = unbounded)")
	fs.DurationVarP(&cfg.ConnTimeout, "timeout", "w", cfg.ConnTimeout, "Connect timeout for network transports")

	// ── console ──────────────────────────────────────────────────
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Extra connect attempts after a failure")
	fs.BoolVar(&cfg.LineMode, "line", cfg.LineMode, "Read typed commands line by line")
	fs.Float64Var(&cfg.RepeatRate, "repeat-rate", cfg.RepeatRate, "Max movement keys per second (0 = unlimited)")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.Stats, "stats", cfg.Stats, "Print link statistics on exit")

	var showVersion, showHelp, dryRun, listDevices bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&listDevices, "list", false, "List known devices and exit")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "rclink %s\n", version)
		return nil
	}

	// ── positional arguments ─────────────────────────────────────
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		cfg.Device = rest[0]
	default:
		return fmt.Errorf("expected at most one device name, got %d arguments", len(rest))
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stderr)

	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	finder := transport.NewFinder(specs, transport.Options{
		PollWindow:     cfg.ReadTimeout,
		ConnectTimeout: cfg.ConnTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Logger:         logger,
	})

	if listDevices {
		for _, name := range finder.Names() {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}

	dev, err := finder.FindDeviceByName(cfg.Device)
	if err != nil {
		return err
	}
	if cfg.ConfigPath != "" {
		logger.Verbose("config loaded from %s", cfg.ConfigPath)
	}
	logger.Verbose("device %s: %v", dev.Name(), dev)

	if dryRun {
		fmt.Fprintf(stdout, "configuration OK: %s -> %v\n", dev.Name(), dev)
		return nil
	}

	collector := metrics.New()
	con := console.New(console.Options{
		Device:      dev,
		In:          stdin,
		Out:         stdout,
		Logger:      logger,
		LineMode:    cfg.LineMode,
		AutoConnect: true,
		Retries:     cfg.Retries,
		RetryDelay:  config.DefaultRetryDelay,
		MaxDelay:    config.DefaultMaxRetryDelay,
		RepeatRate:  cfg.RepeatRate,
		RepeatBurst: cfg.RepeatBurst,
	})
	mgr := session.New(session.Config{
		PollInterval: cfg.PollInterval,
		ChunkSize:    cfg.ChunkSize,
		MaxPending:   cfg.MaxPending,
		Listener:     con,
		Logger:       logger,
		Metrics:      collector,
	})
	con.Attach(mgr)

	err = con.Run(ctx)
	if cfg.Stats || cfg.Verbose >= 2 {
		fmt.Fprintln(stderr, collector.JSON())
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds the config file before flags are parsed, so that
// flags can still override what it sets.  explicit reports whether the
// user named the file, in which case it must exist.
func configPath(args []string) (path string, explicit bool) {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v, true
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	if v := os.Getenv("RCLINK_CONFIG"); v != "" {
		return v, true
	}
	return config.DefaultPath(), false
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `rclink – serial remote-control link v%s

Drives a two-channel RC vehicle (throttle, steering) over a serial
link: a Bluetooth SPP module, a USB adapter, or a TCP serial bridge.

Usage:
  rclink [options] [device]                   Connect to a named device (default %s)
  rclink --serial /dev/ttyUSB0 [options]      Ad-hoc serial device
  rclink --bridge host[:port] [options]       Ad-hoc TCP serial bridge
  rclink -T user@gateway --bridge host:port   Bridge behind an SSH gateway

Keys (terminal):
  %s

Options:
`, version, config.DefaultDevice, console.KeyHelp)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  rclink                                      Connect to HC-06 on /dev/rfcomm0
  rclink --list                               Show the device table
  rclink -vv --retries 3 rover                Verbose, retry connecting
  printf 'E1600\nS1400\nquit\n' | rclink      Scripted commands
`)
}
