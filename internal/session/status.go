package session

import "rclink/internal/protocol"

// State is the lifecycle position of the Manager.  A failed connect or
// a lost connection always ends in Disconnected.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Status is what a Listener is told about the link.  ConnectFailed
// and ConnectionLost are one-shot reports, not states.
type Status int

const (
	StatusConnecting Status = iota + 1
	StatusConnected
	StatusDisconnected
	StatusConnectFailed
	StatusConnectionLost
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnectFailed:
		return "ConnectFailed"
	case StatusConnectionLost:
		return "ConnectionLost"
	default:
		return "Status(?)"
	}
}

// Reason explains why a command was not sent.
type Reason int

const (
	ReasonBusy Reason = iota + 1
	ReasonNotConnected
)

func (r Reason) String() string {
	switch r {
	case ReasonBusy:
		return "Busy"
	case ReasonNotConnected:
		return "NotConnected"
	default:
		return "Reason(?)"
	}
}

// Listener receives link events.  Callbacks run on the goroutine that
// caused the event (the caller of Connect, SendCommand or Disconnect,
// or the read loop) with no Manager lock held, so a Listener may call
// back into the Manager.  Callbacks should return quickly: a slow
// OnTelemetry delays the next read.
//
// OnTelemetry is only called for a session whose StatusConnected has
// already been delivered; bytes that arrive while connecting are held
// until then.
type Listener interface {
	OnStatusChanged(Status)
	OnTelemetry(protocol.Telemetry)
	OnSendRejected(Reason)
}

// ListenerFuncs adapts plain functions to a Listener.  Nil fields are
// skipped.
type ListenerFuncs struct {
	StatusChanged func(Status)
	Telemetry     func(protocol.Telemetry)
	SendRejected  func(Reason)
}

func (f ListenerFuncs) OnStatusChanged(s Status) {
	if f.StatusChanged != nil {
		f.StatusChanged(s)
	}
}

func (f ListenerFuncs) OnTelemetry(t protocol.Telemetry) {
	if f.Telemetry != nil {
		f.Telemetry(t)
	}
}

func (f ListenerFuncs) OnSendRejected(r Reason) {
	if f.SendRejected != nil {
		f.SendRejected(r)
	}
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) OnStatusChanged(Status)         {}
func (NopListener) OnTelemetry(protocol.Telemetry) {}
func (NopListener) OnSendRejected(Reason)          {}
