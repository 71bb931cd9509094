package errors

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectError_Format(t *testing.T) {
	err := &ConnectError{Device: "HC-06", Err: fmt.Errorf("no such file")}
	assert.EqualError(t, err, "connect HC-06: no such file")
}

func TestIOFaultError_Unwrap(t *testing.T) {
	err := Fault("read", "HC-06", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.EqualError(t, err, "read HC-06: unexpected EOF")
}

func TestRangeError(t *testing.T) {
	err := &RangeError{Channel: "steering", Value: 999, Min: 1000, Max: 2000}
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.EqualError(t, err, "steering pwm 999 outside [1000, 2000]")
}

func TestNetworkError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  NetworkError
		want string
	}{
		{
			name: "retryable",
			err:  NetworkError{Op: "dial", Addr: "car.local:4000", Err: io.EOF, Retryable: true},
			want: "dial car.local:4000: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  NetworkError{Op: "dial", Addr: ":4000", Err: fmt.Errorf("refused")},
			want: "dial :4000: refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, &tt.err, tt.want)
		})
	}
}

func TestSSHError_Format(t *testing.T) {
	err := WrapSSH("handshake", "pi.local", 22, fmt.Errorf("connection refused"))
	assert.EqualError(t, err, "ssh handshake pi.local:22: connection refused")
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "baud",
				Value:   -1,
				Message: "must be positive",
				Hint:    "HC-06 modules default to 9600",
			},
			want: "config: --baud=-1: must be positive\n  hint: HC-06 modules default to 9600",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "address",
				Message: "required for tcp transport",
			},
			want: "config: --address: required for tcp transport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, &tt.err, tt.want)
		})
	}
}

func TestIsConnectionFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"read fault", Fault("read", "x", io.EOF), true},
		{"wrapped write fault", fmt.Errorf("send: %w", Fault("write", "x", io.EOF)), true},
		{"overflow", fmt.Errorf("framer: %w", ErrFrameOverflow), true},
		{"busy", ErrBusy, false},
		{"connect", &ConnectError{Device: "x", Err: io.EOF}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionFault(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	refused := Wrap("dial", "127.0.0.1:4000",
		&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED})

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: true}, true},
		{"non-retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF}, false},
		{"bare refused dial", refused, false},
		{"connect failure", &ConnectError{Device: "x", Err: io.EOF}, true},
		{"refused bridge connect", &ConnectError{Device: "bench", Err: refused}, true},
		{"wrapped connect failure", fmt.Errorf("giving up: %w", &ConnectError{Device: "x", Err: refused}), true},
		{"permission", &ConnectError{Device: "x", Err: ErrPermissionDenied}, false},
		{"not found", ErrDeviceNotFound, false},
		{"auth rejected", &ConnectError{Device: "x", Err: WrapSSH("handshake", "gw", 22, ErrAuthFailed)}, false},
		{"abandoned", &ConnectError{Device: "x", Err: fmt.Errorf("disconnected: %w", context.Canceled)}, false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassifyRetryable_NetOpError(t *testing.T) {
	opErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: &net.DNSError{IsTemporary: true},
	}
	assert.True(t, classifyRetryable(opErr), "temporary OpError should be retryable")
}

func TestSentinels(t *testing.T) {
	sentinels := []error{
		ErrAlreadyConnected, ErrNotConnected, ErrBusy, ErrOutOfRange,
		ErrUnknownChannel, ErrFrameOverflow, ErrDeviceNotFound,
		ErrPermissionDenied, ErrTunnelClosed, ErrAuthFailed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.NotErrorIs(t, a, b, "sentinel %d and %d", i, j)
			}
		}
	}
}
