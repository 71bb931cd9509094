package transport

import (
	"fmt"
	"strings"
	"time"

	ncerr "rclink/internal/errors"
	"rclink/tunnel"
	"rclink/util"
)

// DefaultDeviceName is the advertised name of a stock HC-06 module.
const DefaultDeviceName = "HC-06"

// Spec describes one known vehicle link.
type Spec struct {
	Name    string
	Kind    Kind
	Path    string            // serial: device node
	Baud    int               // serial: line rate
	Address string            // tcp, ssh: bridge host:port
	Tunnel  *tunnel.SSHConfig // ssh: gateway
}

// Validate checks that the fields needed by Kind are present.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ncerr.ConfigError{Field: "device.name", Message: "required"}
	}
	switch s.Kind {
	case KindSerial:
		if s.Path == "" {
			return &ncerr.ConfigError{Field: "device.path", Value: s.Name, Message: "required for serial transport"}
		}
		if s.Baud < 0 {
			return &ncerr.ConfigError{Field: "device.baud", Value: s.Baud, Message: "must be positive"}
		}
	case KindTCP:
		if s.Address == "" {
			return &ncerr.ConfigError{Field: "device.address", Value: s.Name, Message: "required for tcp transport"}
		}
	case KindSSH:
		if s.Address == "" {
			return &ncerr.ConfigError{Field: "device.address", Value: s.Name, Message: "required for ssh transport"}
		}
		if s.Tunnel == nil || s.Tunnel.Host == "" {
			return &ncerr.ConfigError{
				Field:   "device.tunnel",
				Value:   s.Name,
				Message: "required for ssh transport",
				Hint:    `use tunnel = "user@gateway[:port]"`,
			}
		}
	default:
		return &ncerr.ConfigError{
			Field:   "device.transport",
			Value:   s.Kind,
			Message: "unknown transport",
			Hint:    "one of serial, tcp, ssh",
		}
	}
	return nil
}

// DefaultSpecs is used when no device table is configured: the HC-06
// module bound to the first RFCOMM port.
func DefaultSpecs() []Spec {
	return []Spec{{
		Name: DefaultDeviceName,
		Kind: KindSerial,
		Path: "/dev/rfcomm0",
		Baud: DefaultBaud,
	}}
}

// Options tune the devices a Finder builds.
type Options struct {
	PollWindow     time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Logger         *util.Logger
}

// Finder resolves device names against a static table, standing in for
// Bluetooth bonded-device enumeration.
type Finder struct {
	specs []Spec
	opts  Options
}

// NewFinder returns a Finder over specs.
func NewFinder(specs []Spec, opts Options) *Finder {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	return &Finder{specs: specs, opts: opts}
}

// Names lists the known device names in table order.
func (f *Finder) Names() []string {
	out := make([]string, 0, len(f.specs))
	for _, s := range f.specs {
		out = append(out, s.Name)
	}
	return out
}

// FindDeviceByName returns the device called name.  An exact match wins
// over a case-insensitive one.
func (f *Finder) FindDeviceByName(name string) (Device, error) {
	var fold *Spec
	for i := range f.specs {
		s := &f.specs[i]
		if s.Name == name {
			return f.build(*s)
		}
		if fold == nil && strings.EqualFold(s.Name, name) {
			fold = s
		}
	}
	if fold != nil {
		return f.build(*fold)
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ncerr.ErrDeviceNotFound, name, strings.Join(f.Names(), ", "))
}

func (f *Finder) build(s Spec) (Device, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindSerial:
		return &SerialDevice{Label: s.Name, Path: s.Path, Baud: s.Baud, ReadTimeout: f.opts.PollWindow}, nil
	case KindTCP:
		addr, err := util.NormalizeAddr(s.Address, DefaultBridgePort)
		if err != nil {
			return nil, &ncerr.ConfigError{Field: "device.address", Value: s.Address, Message: err.Error()}
		}
		return &TCPDevice{
			Label:        s.Name,
			Address:      addr,
			Timeout:      f.opts.ConnectTimeout,
			PollWindow:   f.opts.PollWindow,
			WriteTimeout: f.opts.WriteTimeout,
		}, nil
	default: // KindSSH, checked by Validate
		addr, err := util.NormalizeAddr(s.Address, DefaultBridgePort)
		if err != nil {
			return nil, &ncerr.ConfigError{Field: "device.address", Value: s.Address, Message: err.Error()}
		}
		tcfg := *s.Tunnel
		if tcfg.ConnTimeout == 0 {
			tcfg.ConnTimeout = f.opts.ConnectTimeout
		}
		dev := NewSSHDevice(s.Name, addr, &tcfg, f.opts.Logger)
		dev.PollWindow = f.opts.PollWindow
		return dev, nil
	}
}
