package protocol

import (
	"strconv"
	"strings"
)

const (
	telemetryPrefix = "T:"
	telemetrySuffix = "C"

	// TelemetryPlaceholder is displayed while no reading is known.
	TelemetryPlaceholder = "T: --°C"
)

// Kind is the classification of a complete inbound message.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindTelemetry
)

func (k Kind) String() string {
	if k == KindTelemetry {
		return "telemetry"
	}
	return "unrecognized"
}

// Telemetry is a temperature report exactly as the vehicle sent it.
type Telemetry struct {
	Raw string
}

// Payload returns the text between the "T:" prefix and "C" suffix.
func (t Telemetry) Payload() string {
	s := strings.TrimPrefix(t.Raw, telemetryPrefix)
	return strings.TrimSuffix(s, telemetrySuffix)
}

// Celsius parses the payload as a decimal reading.  The wire format
// does not promise a number, so ok is false for anything else.
func (t Telemetry) Celsius() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(t.Payload()), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (t Telemetry) String() string { return t.Raw }

// Classify decides whether msg is a telemetry report: it must start
// with "T:" and end with "C", case-sensitive and untrimmed.  Anything
// else is noise.
func Classify(msg string) (Telemetry, Kind) {
	if strings.HasPrefix(msg, telemetryPrefix) && strings.HasSuffix(msg, telemetrySuffix) {
		return Telemetry{Raw: msg}, KindTelemetry
	}
	return Telemetry{}, KindUnrecognized
}
