// Package session owns the single control link to a vehicle: it opens
// the device stream, forces both actuators to neutral, runs the inbound
// read loop and gates outbound commands.
//
// At most one session exists at a time.  A session is created by
// Connect and destroyed by Disconnect or by the first I/O fault; every
// path ends in the Disconnected state, from which a fresh Connect is
// always accepted.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	ncerr "rclink/internal/errors"
	"rclink/internal/flow"
	"rclink/internal/metrics"
	"rclink/internal/protocol"
	"rclink/internal/transport"
	"rclink/util"
)

// Defaults for Config fields left zero.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultChunkSize    = 32
	DefaultMaxPending   = 4096

	// gateRetry is how often Connect re-polls a busy flow gate.
	gateRetry = time.Millisecond
)

// Config tunes a Manager.
type Config struct {
	// PollInterval is the pause after a read that found no data.
	PollInterval time.Duration
	// ChunkSize bounds a single read.
	ChunkSize int
	// MaxPending bounds the unterminated inbound tail.  Exceeding it
	// ends the session.  Zero disables the bound.
	MaxPending int

	Listener Listener
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// DefaultConfig returns a Config with every bound at its default.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		ChunkSize:    DefaultChunkSize,
		MaxPending:   DefaultMaxPending,
	}
}

// errSessionClosed marks a write that lost a race with teardown.
var errSessionClosed = errors.New("session closed")

// Manager is the connection lifecycle state machine.  All methods are
// safe for concurrent use.
type Manager struct {
	cfg      Config
	listener Listener
	log      *util.Logger
	metrics  *metrics.Collector
	gate     *flow.Controller

	mu     sync.Mutex // guards sess, device and state transitions
	sess   *session   // non-nil while Connecting or Connected
	device string     // name of the most recent device
	state  atomic.Int32
}

// session is one connection attempt and, if it succeeds, the live link.
type session struct {
	id     string
	device string
	log    *util.Logger
	framer *protocol.Framer

	// stream is set once under Manager.mu before the read loop starts.
	stream transport.ByteStream

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{} // closed once StatusConnected has been reported

	// Teardown holds both locks while closing the stream, so it never
	// overlaps a read or a write.
	readMu    sync.Mutex
	writeMu   sync.Mutex
	closeOnce sync.Once
	opened    bool // counted in metrics.SessionOpened; guarded by Manager.mu
}

// New returns a disconnected Manager.
func New(cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	if cfg.Logger == nil {
		cfg.Logger = util.NewLogger(0)
	}
	return &Manager{
		cfg:      cfg,
		listener: cfg.Listener,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		gate:     flow.New(),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// SessionID returns the id of the active session, or "" when
// disconnected.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.id
}

// Device returns the name of the device last passed to Connect.
func (m *Manager) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Stats returns the metrics snapshot, empty without a collector.
func (m *Manager) Stats() metrics.Snapshot {
	return m.metrics.Snapshot()
}

// setState must be called with m.mu held.
func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Manager) emit(s Status) {
	m.log.Verbose("status: %s", s)
	m.listener.OnStatusChanged(s)
}

// Connect opens dev and brings the session up.  Both actuators are
// sent to neutral before any other command can reach the stream.
//
// It returns ErrAlreadyConnected unless the Manager is Disconnected,
// a *ConnectError if the stream cannot be opened, and an *IOFaultError
// if the neutral frames cannot be written.  ctx bounds the connect
// attempt only; the session outlives it.
func (m *Manager) Connect(ctx context.Context, dev transport.Device) error {
	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return ncerr.ErrAlreadyConnected
	}
	id := ulid.Make().String()
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     id,
		device: dev.Name(),
		log:    m.log.With("session " + id),
		framer: protocol.NewFramer(),
		ctx:    sctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	m.sess = s
	m.device = s.device
	m.setState(Connecting)
	m.mu.Unlock()

	m.emit(StatusConnecting)
	s.log.Info("connecting to %s", s.device)

	// Disconnect while opening cancels the open as well.
	openCtx, cancelOpen := context.WithCancel(ctx)
	stop := context.AfterFunc(sctx, cancelOpen)
	stream, err := dev.Open(openCtx)
	stop()
	cancelOpen()

	if err != nil {
		return m.connectFailed(s, err)
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		stream.Close() //nolint:errcheck
		return m.abandoned(s)
	}
	s.stream = stream
	m.mu.Unlock()

	if err := m.acquireGate(ctx, s); err != nil {
		if s.ctx.Err() != nil {
			return m.abandoned(s)
		}
		return m.connectFailed(s, err)
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		m.gate.Release()
		return m.abandoned(s)
	}
	m.setState(Connected)
	s.opened = true
	m.mu.Unlock()
	m.metrics.SessionOpened()

	go m.readLoop(s)

	err = m.write(s, protocol.Neutral(protocol.Throttle))
	if err == nil {
		err = m.write(s, protocol.Neutral(protocol.Steering))
	}
	m.gate.Release()

	if err != nil {
		if errors.Is(err, errSessionClosed) {
			return m.abandoned(s)
		}
		m.fault(s, err)
		return err
	}

	// Disconnect may already have ended the session.
	if s.ctx.Err() != nil {
		return m.abandoned(s)
	}
	s.log.Info("connected to %s", s.device)
	m.emit(StatusConnected)
	close(s.ready)
	return nil
}

// acquireGate waits for the flow gate.  Only a send racing the connect
// can hold it, and only briefly.
func (m *Manager) acquireGate(ctx context.Context, s *session) error {
	if m.gate.TryAcquire() {
		return nil
	}
	t := time.NewTicker(gateRetry)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-t.C:
			if m.gate.TryAcquire() {
				return nil
			}
		}
	}
}

// connectFailed tears s down after a failed open and reports
// ConnectFailed, unless Disconnect already took the session away.
func (m *Manager) connectFailed(s *session, err error) error {
	m.mu.Lock()
	current := m.sess == s
	if current {
		m.sess = nil
		m.setState(Disconnected)
	}
	m.mu.Unlock()

	m.teardown(s)
	if !current {
		return m.abandoned(s)
	}

	m.metrics.ConnectFailed()
	m.metrics.RecordError(err.Error())
	s.log.Error("connect to %s failed: %v", s.device, err)
	m.emit(StatusConnectFailed)
	return &ncerr.ConnectError{Device: s.device, Err: err}
}

// abandoned is the result of a connect that Disconnect cut short.  The
// Disconnected status has already been reported.
func (m *Manager) abandoned(s *session) error {
	m.teardown(s)
	s.log.Verbose("connect to %s abandoned", s.device)
	return &ncerr.ConnectError{
		Device: s.device,
		Err:    fmt.Errorf("disconnected while connecting: %w", context.Canceled),
	}
}

// SendCommand encodes and writes one actuation command.
//
// Range and channel errors are returned without touching the link.
// While another command is in flight it reports ReasonBusy and returns
// ErrBusy.  Outside Connected it reports ReasonNotConnected, forces a
// Disconnect, and returns ErrNotConnected.  A failed write ends the
// session and returns an *IOFaultError; it is never retried.
func (m *Manager) SendCommand(ch protocol.Channel, pwm int) error {
	cmd, err := protocol.NewCommand(ch, pwm)
	if err != nil {
		return err
	}

	if !m.gate.TryAcquire() {
		m.metrics.CommandRejected()
		m.log.Verbose("please wait before sending another command (%s)", cmd)
		m.listener.OnSendRejected(ReasonBusy)
		return ncerr.ErrBusy
	}

	m.mu.Lock()
	s := m.sess
	connected := s != nil && m.State() == Connected
	m.mu.Unlock()

	if !connected {
		m.gate.Release()
		return m.rejectNotConnected(cmd)
	}

	err = m.write(s, cmd)
	m.gate.Release()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errSessionClosed):
		return m.rejectNotConnected(cmd)
	default:
		m.fault(s, err)
		return err
	}
}

func (m *Manager) rejectNotConnected(cmd protocol.Command) error {
	m.log.Info("not connected to %s, dropping %s", m.Device(), cmd)
	m.listener.OnSendRejected(ReasonNotConnected)
	m.Disconnect() //nolint:errcheck
	return ncerr.ErrNotConnected
}

// write puts one frame on the stream.  It returns errSessionClosed if
// teardown has begun and an *IOFaultError if the stream fails.
func (m *Manager) write(s *session, cmd protocol.Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.ctx.Err() != nil {
		return errSessionClosed
	}
	frame := cmd.Encode()
	n, err := s.stream.Write(frame)
	m.metrics.BytesSent(int64(n))
	if err != nil {
		return ncerr.Fault("write", s.device, err)
	}
	m.metrics.CommandSent()
	s.log.Verbose("sent %s", cmd)
	s.log.Debug("tx %s", util.ByteList(frame))
	return nil
}

// Disconnect ends the session, or abandons a connect in progress.  It
// is idempotent: with no session it does nothing and reports nothing.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	m.sess = nil
	m.setState(Disconnected)
	m.mu.Unlock()

	m.teardown(s)
	s.log.Info("disconnected from %s", s.device)
	m.emit(StatusDisconnected)
	return nil
}

// fault ends s after an I/O failure.  Only the first fault for a
// session is reported; later ones, and faults racing Disconnect, are
// dropped.
func (m *Manager) fault(s *session, err error) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.setState(Disconnected)
	m.mu.Unlock()

	m.metrics.RecordError(err.Error())
	s.log.Error("connection lost: %v", err)
	m.teardown(s)
	m.emit(StatusConnectionLost)
	m.emit(StatusDisconnected)
}

// teardown stops the read loop and closes the stream exactly once.  The
// caller must already have detached s from the Manager and must not
// hold s.readMu or s.writeMu.
func (m *Manager) teardown(s *session) {
	s.cancel()
	s.readMu.Lock()
	s.writeMu.Lock()
	defer s.readMu.Unlock()
	defer s.writeMu.Unlock()

	s.closeOnce.Do(func() {
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				s.log.Debug("close: %v", err)
			}
		}
		s.framer.Reset()

		m.mu.Lock()
		opened := s.opened
		m.mu.Unlock()
		if opened {
			m.metrics.SessionClosed()
		}
	})
}

// readLoop delivers inbound messages until the session is cancelled or
// the stream fails.  It does not read before Connected is reported.
func (m *Manager) readLoop(s *session) {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return
	}

	buf := make([]byte, m.cfg.ChunkSize)
	idle := time.NewTimer(m.cfg.PollInterval)
	defer idle.Stop()

	for s.ctx.Err() == nil {
		msgs, n, err := m.readChunk(s, buf)
		for _, msg := range msgs {
			m.dispatch(s, msg)
		}
		if err != nil {
			if s.ctx.Err() == nil {
				m.fault(s, err)
			}
			return
		}
		if n > 0 {
			continue
		}

		idle.Reset(m.cfg.PollInterval)
		select {
		case <-s.ctx.Done():
			return
		case <-idle.C:
		}
	}
}

// readChunk performs one read under s.readMu and frames what arrived.
func (m *Manager) readChunk(s *session, buf []byte) (msgs []string, n int, err error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.ctx.Err() != nil {
		return nil, 0, nil
	}

	n, rerr := s.stream.Read(buf)
	if n > 0 {
		m.metrics.BytesReceived(int64(n))
		s.log.Debug("rx %s", util.ByteList(buf[:n]))
		for msg := range s.framer.Feed(buf[:n]) {
			msgs = append(msgs, msg)
		}
		if limit := m.cfg.MaxPending; limit > 0 && s.framer.Pending() > limit {
			err := fmt.Errorf("%w: %d bytes without a delimiter", ncerr.ErrFrameOverflow, s.framer.Pending())
			return msgs, n, ncerr.Fault("read", s.device, err)
		}
	}
	if rerr != nil {
		return msgs, n, ncerr.Fault("read", s.device, rerr)
	}
	return msgs, n, nil
}

func (m *Manager) dispatch(s *session, msg string) {
	if s.ctx.Err() != nil {
		return
	}
	tel, kind := protocol.Classify(msg)
	if kind != protocol.KindTelemetry {
		m.metrics.NoiseReceived()
		s.log.Debug("ignoring %q", msg)
		return
	}
	m.metrics.TelemetryReceived()
	s.log.Verbose("telemetry %s", tel)
	m.listener.OnTelemetry(tel)
}
