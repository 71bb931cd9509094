// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of a control link.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics across sessions.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	sessionsActive   atomic.Int64
	sessionsTotal    atomic.Int64
	connectFailures  atomic.Int64
	bytesIn          atomic.Int64
	bytesOut         atomic.Int64
	commandsSent     atomic.Int64
	commandsRejected atomic.Int64
	telemetry        atomic.Int64
	noise            atomic.Int64
	errorsTotal      atomic.Int64

	mu            sync.RWMutex
	startTime     time.Time
	lastTelemetry time.Time
	lastError     time.Time
	lastErrorMsg  string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ConnectFailed records a stream that could not be opened.
func (c *Collector) ConnectFailed() {
	if c == nil {
		return
	}
	c.connectFailures.Add(1)
}

// ActiveSessions returns the number of open sessions (0 or 1).
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the vehicle.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the vehicle.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Protocol metrics ─────────────────────────────────────────────────

// CommandSent records one command frame written.
func (c *Collector) CommandSent() {
	if c == nil {
		return
	}
	c.commandsSent.Add(1)
}

// CommandRejected records a command dropped by the flow gate.
func (c *Collector) CommandRejected() {
	if c == nil {
		return
	}
	c.commandsRejected.Add(1)
}

// CommandsSent returns the number of command frames written.
func (c *Collector) CommandsSent() int64 {
	if c == nil {
		return 0
	}
	return c.commandsSent.Load()
}

// CommandsRejected returns the number of busy rejections.
func (c *Collector) CommandsRejected() int64 {
	if c == nil {
		return 0
	}
	return c.commandsRejected.Load()
}

// TelemetryReceived records one telemetry message.
func (c *Collector) TelemetryReceived() {
	if c == nil {
		return
	}
	c.telemetry.Add(1)
	c.mu.Lock()
	c.lastTelemetry = time.Now()
	c.mu.Unlock()
}

// NoiseReceived records one unrecognised message.
func (c *Collector) NoiseReceived() {
	if c == nil {
		return
	}
	c.noise.Add(1)
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	ConnectFailures  int64  `json:"connect_failures"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	CommandsSent     int64  `json:"commands_sent"`
	CommandsRejected int64  `json:"commands_rejected"`
	Telemetry        int64  `json:"telemetry"`
	Noise            int64  `json:"noise"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastTelemetry    string `json:"last_telemetry,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:   c.sessionsActive.Load(),
		SessionsTotal:    c.sessionsTotal.Load(),
		ConnectFailures:  c.connectFailures.Load(),
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		CommandsSent:     c.commandsSent.Load(),
		CommandsRejected: c.commandsRejected.Load(),
		Telemetry:        c.telemetry.Load(),
		Noise:            c.noise.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
	}
	if !c.lastTelemetry.IsZero() {
		s.LastTelemetry = c.lastTelemetry.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
