package transport

import (
	"context"
	"fmt"
	"time"

	"rclink/tunnel"
	"rclink/util"
)

// SSHDevice is a TCP serial bridge reachable only through an SSH
// gateway.  Each Open connects a fresh tunnel; closing the stream tears
// the tunnel down again.
type SSHDevice struct {
	Label      string
	Address    string // bridge host:port as seen from the gateway
	PollWindow time.Duration
	Logger     *util.Logger

	// NewTunnel builds the tunnel for one session.
	NewTunnel func() tunnel.Tunnel
}

// NewSSHDevice returns a device that tunnels through the gateway in cfg.
func NewSSHDevice(label, address string, cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDevice {
	return &SSHDevice{
		Label:   label,
		Address: address,
		Logger:  logger,
		NewTunnel: func() tunnel.Tunnel {
			c := *cfg
			return tunnel.NewSSHTunnel(&c, logger)
		},
	}
}

// Name implements [Device].
func (d *SSHDevice) Name() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Address
}

func (d *SSHDevice) String() string { return "ssh:" + d.Address }

// Open implements [Device].
func (d *SSHDevice) Open(ctx context.Context) (ByteStream, error) {
	tun := d.NewTunnel()
	if err := tun.Connect(ctx); err != nil {
		return nil, fmt.Errorf("tunnel: %w", err)
	}

	conn, err := tun.Dial(ctx, "tcp", d.Address)
	if err != nil {
		tun.Close() //nolint:errcheck
		return nil, err
	}

	// SSH channels ignore deadlines, so reads are pumped instead.
	return &tunnelStream{
		PumpStream: NewPumpStream(conn, d.PollWindow, 256),
		tunnel:     tun,
	}, nil
}

type tunnelStream struct {
	*PumpStream
	tunnel tunnel.Tunnel
}

func (s *tunnelStream) Close() error {
	err := s.PumpStream.Close()
	if terr := s.tunnel.Close(); err == nil {
		err = terr
	}
	return err
}
