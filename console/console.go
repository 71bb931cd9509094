// Package console is the terminal front end of the controller.  It
// renders link status and telemetry, and turns key presses or typed
// commands into actuation commands.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ncerr "rclink/internal/errors"
	"rclink/internal/protocol"
	"rclink/internal/retry"
	"rclink/internal/session"
	"rclink/internal/transport"
	"rclink/util"
)

// Link is the part of the session manager the console drives.
type Link interface {
	Connect(ctx context.Context, dev transport.Device) error
	Disconnect() error
	SendCommand(ch protocol.Channel, pwm int) error
	State() session.State
}

// KeyProgress is how many slider positions one key press moves.
const KeyProgress = 5

// Options configure a Console.
type Options struct {
	Device transport.Device
	In     io.Reader
	Out    io.Writer
	Logger *util.Logger

	// LineMode reads one command per line even when In is a terminal.
	LineMode bool
	// AutoConnect connects as soon as Run starts.
	AutoConnect bool
	// Retries is the number of extra connect attempts after a
	// retryable failure.
	Retries    int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	// RepeatRate limits movement keys per second; zero disables it.
	RepeatRate  float64
	RepeatBurst int
}

// Console implements [session.Listener] and drives a [Link].
type Console struct {
	link    Link
	device  transport.Device
	in      io.Reader
	log     *util.Logger
	backoff *retry.Backoff
	limiter *rate.Limiter // nil: unlimited
	lines   bool
	auto    bool

	mu       sync.Mutex // guards out and the displayed values
	out      io.Writer
	throttle int
	steering int
	reading  string
}

// New returns a Console.  Call [Console.Attach] before Run.
func New(opts Options) *Console {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	c := &Console{
		device:   opts.Device,
		in:       opts.In,
		out:      opts.Out,
		log:      opts.Logger,
		lines:    opts.LineMode,
		auto:     opts.AutoConnect,
		throttle: protocol.NeutralPWM,
		steering: protocol.NeutralPWM,
		reading:  protocol.TelemetryPlaceholder,
	}

	c.backoff = retry.ForAttempts(max(opts.Retries, 0), opts.RetryDelay, opts.MaxDelay)
	c.backoff.Retryable = ncerr.IsRetryable
	c.backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.log.Warn("attempt %d failed: %v, retrying in %s", attempt, err, wait.Round(time.Millisecond))
	}

	if opts.RepeatRate > 0 {
		burst := max(opts.RepeatBurst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(opts.RepeatRate), burst)
	}
	return c
}

// Attach sets the link the console controls.
func (c *Console) Attach(l Link) {
	c.link = l
}

// ── session.Listener ─────────────────────────────────────────────────

// OnStatusChanged renders a link status line.
func (c *Console) OnStatusChanged(s session.Status) {
	name := c.device.Name()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s {
	case session.StatusConnecting:
		c.printf("connecting to %s...", name)
	case session.StatusConnected:
		c.throttle, c.steering = protocol.NeutralPWM, protocol.NeutralPWM
		c.printf("connected to %s", name)
		c.printf("%s  %s", protocol.Throttle.Label(c.throttle), protocol.Steering.Label(c.steering))
	case session.StatusConnectFailed:
		c.printf("could not connect to %s", name)
	case session.StatusConnectionLost:
		c.printf("connection to %s lost", name)
	case session.StatusDisconnected:
		c.reading = protocol.TelemetryPlaceholder
		c.printf("disconnected from %s", name)
		c.printf("%s", c.reading)
	}
}

// OnTelemetry renders a temperature reading.
func (c *Console) OnTelemetry(t protocol.Telemetry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = Reading(t)
	c.printf("%s", c.reading)
}

// OnSendRejected explains why a command was dropped.
func (c *Console) OnSendRejected(r session.Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch r {
	case session.ReasonBusy:
		c.printf("please wait before sending another command")
	case session.ReasonNotConnected:
		c.printf("not connected to %s", c.device.Name())
	}
}

// Reading formats telemetry for display: "T: 23.5°C" for a numeric
// payload, the raw message otherwise.
func Reading(t protocol.Telemetry) string {
	if _, ok := t.Celsius(); ok {
		return fmt.Sprintf("T: %s°C", t.Payload())
	}
	return t.Raw
}

// Telemetry returns the text currently shown for the temperature.
func (c *Console) Telemetry() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading
}

// Values returns the last throttle and steering values sent.
func (c *Console) Values() (throttle, steering int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttle, c.steering
}

// printf writes one line.  c.mu must be held.
func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

// ── Actions ──────────────────────────────────────────────────────────

// connect opens the link, retrying within the configured budget.
func (c *Console) connect(ctx context.Context) error {
	return c.backoff.Do(ctx, func(int) error {
		err := c.link.Connect(ctx, c.device)
		if errors.Is(err, ncerr.ErrAlreadyConnected) {
			return retry.Permanent(err)
		}
		return err
	})
}

// toggle connects when disconnected and disconnects otherwise.
func (c *Console) toggle(ctx context.Context) {
	if c.link.State() == session.Disconnected {
		if err := c.connect(ctx); err != nil {
			c.log.Verbose("connect: %v", err)
		}
		return
	}
	c.link.Disconnect() //nolint:errcheck
}

// set sends pwm on ch and records it for display on success.  Busy and
// not-connected outcomes are reported through the listener callbacks.
func (c *Console) set(ch protocol.Channel, pwm int) error {
	pwm = protocol.Clamp(pwm)
	if err := c.link.SendCommand(ch, pwm); err != nil {
		return err
	}
	c.record(ch, pwm)
	return nil
}

func (c *Console) record(ch protocol.Channel, pwm int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch == protocol.Throttle {
		c.throttle = pwm
	} else {
		c.steering = pwm
	}
	c.printf("%s", ch.Label(pwm))
}

// nudge moves ch by delta slider positions from its current value.
func (c *Console) nudge(ch protocol.Channel, delta int) error {
	if c.limiter != nil && !c.limiter.Allow() {
		c.log.Debug("key repeat dropped")
		return nil
	}
	throttle, steering := c.Values()
	cur := throttle
	if ch == protocol.Steering {
		cur = steering
	}
	return c.set(ch, protocol.PWMFromProgress(protocol.ProgressFromPWM(cur)+delta))
}

// neutral centres both channels.
func (c *Console) neutral() error {
	if err := c.set(protocol.Throttle, protocol.NeutralPWM); err != nil {
		return err
	}
	return c.set(protocol.Steering, protocol.NeutralPWM)
}

// ── Run ──────────────────────────────────────────────────────────────

// Run reads input until the user quits, the input ends or ctx is
// cancelled, and disconnects before returning.
func (c *Console) Run(ctx context.Context) error {
	if c.link == nil {
		return errors.New("console: no link attached")
	}
	defer c.link.Disconnect() //nolint:errcheck

	if c.auto {
		if err := c.connect(ctx); err != nil {
			c.log.Verbose("connect: %v", err)
		}
	}

	if fd, ok := terminalFD(c.in); ok && !c.lines {
		return c.runRaw(ctx, fd)
	}
	return c.runLines(ctx)
}
