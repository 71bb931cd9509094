// Package protocol implements the newline-delimited wire format spoken
// between the controller and the vehicle firmware.
//
// Outbound frames are actuation commands:
//
//	<tag><pwm:4 digits>\n      e.g. "E1500\n", "S2000\n"
//
// Inbound frames carry telemetry:
//
//	T:<payload>C\n             e.g. "T:23.5C\n"
//
// There is no escaping, length prefix or checksum.
package protocol

import (
	"fmt"

	ncerr "rclink/internal/errors"
)

// Delimiter terminates every frame in both directions.
const Delimiter = '\n'

// Actuation range accepted by the vehicle firmware.
const (
	MinPWM     = 1000
	MaxPWM     = 2000
	NeutralPWM = 1500

	// ProgressStep is the PWM change per slider step.
	ProgressStep = 10
)

// Channel selects the actuator a command drives.
type Channel int

const (
	Throttle Channel = iota + 1
	Steering
)

// Tag returns the single-letter wire tag for the channel.
func (c Channel) Tag() (byte, bool) {
	switch c {
	case Throttle:
		return 'E', true // "engine"
	case Steering:
		return 'S', true
	default:
		return 0, false
	}
}

func (c Channel) String() string {
	switch c {
	case Throttle:
		return "throttle"
	case Steering:
		return "steering"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Label renders the value the way the controller displays it, marking
// the neutral position.
func (c Channel) Label(pwm int) string {
	switch c {
	case Throttle:
		if pwm == NeutralPWM {
			return fmt.Sprintf("Speed: %d (Neutral)", pwm)
		}
		return fmt.Sprintf("Speed: %d", pwm)
	case Steering:
		if pwm == NeutralPWM {
			return fmt.Sprintf("Steering: %d (Center)", pwm)
		}
		return fmt.Sprintf("Steering: %d", pwm)
	default:
		return fmt.Sprintf("%s: %d", c, pwm)
	}
}

// ParseChannel maps a wire tag back to its channel.
func ParseChannel(tag byte) (Channel, bool) {
	switch tag {
	case 'E':
		return Throttle, true
	case 'S':
		return Steering, true
	default:
		return 0, false
	}
}

// Command is an immutable actuation request.
type Command struct {
	channel Channel
	pwm     int
}

// NewCommand validates ch and pwm and returns the command.
func NewCommand(ch Channel, pwm int) (Command, error) {
	if _, ok := ch.Tag(); !ok {
		return Command{}, fmt.Errorf("%w: %d", ncerr.ErrUnknownChannel, int(ch))
	}
	if pwm < MinPWM || pwm > MaxPWM {
		return Command{}, &ncerr.RangeError{Channel: ch.String(), Value: pwm, Min: MinPWM, Max: MaxPWM}
	}
	return Command{channel: ch, pwm: pwm}, nil
}

// Neutral returns the centring command for ch.
func Neutral(ch Channel) Command {
	return Command{channel: ch, pwm: NeutralPWM}
}

func (c Command) Channel() Channel { return c.channel }
func (c Command) PWM() int         { return c.pwm }

// Encode renders the command frame including the trailing delimiter.
func (c Command) Encode() []byte {
	tag, _ := c.channel.Tag()
	out := make([]byte, 0, 6)
	out = append(out, tag)
	out = fmt.Appendf(out, "%04d", c.pwm)
	return append(out, Delimiter)
}

func (c Command) String() string {
	tag, _ := c.channel.Tag()
	return fmt.Sprintf("%c%04d", tag, c.pwm)
}

// Encode builds the frame for ch at pwm, failing with a RangeError
// (matching [ncerr.ErrOutOfRange]) outside [MinPWM, MaxPWM].
func Encode(ch Channel, pwm int) ([]byte, error) {
	cmd, err := NewCommand(ch, pwm)
	if err != nil {
		return nil, err
	}
	return cmd.Encode(), nil
}

// PWMFromProgress converts a 0..100 slider position to a PWM value.
func PWMFromProgress(progress int) int {
	progress = max(0, min(progress, 100))
	return MinPWM + progress*ProgressStep
}

// ProgressFromPWM is the inverse of [PWMFromProgress], clamped to 0..100.
func ProgressFromPWM(pwm int) int {
	pwm = max(MinPWM, min(pwm, MaxPWM))
	return (pwm - MinPWM) / ProgressStep
}

// Clamp limits pwm to the actuation range.
func Clamp(pwm int) int {
	return max(MinPWM, min(pwm, MaxPWM))
}
