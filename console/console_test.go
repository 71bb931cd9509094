package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "rclink/internal/errors"
	"rclink/internal/protocol"
	"rclink/internal/session"
	"rclink/internal/testutil/fakelink"
	"rclink/internal/transport"
	"rclink/util"
)

func newLinked(t *testing.T, dev *fakelink.Device, opts Options) (*Console, *session.Manager, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts.Device = dev
	opts.Out = &out
	c := New(opts)
	m := session.New(session.Config{PollInterval: time.Millisecond, Listener: c})
	c.Attach(m)
	t.Cleanup(func() { m.Disconnect() }) //nolint:errcheck
	return c, m, &out
}

func TestRun_LineSession(t *testing.T) {
	dev := fakelink.New("HC-06")
	input := strings.Join([]string{
		"E1600", "s1400", "neutral", "status", "disconnect", "E1700", "quit", "E1800",
	}, "\n")
	c, m, out := newLinked(t, dev, Options{In: strings.NewReader(input), AutoConnect: true})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, session.Disconnected, m.State())

	assert.Equal(t,
		[]string{"E1500", "S1500", "E1600", "S1400", "E1500", "S1500"},
		dev.Stream().Frames())

	text := out.String()
	for _, want := range []string{
		"connecting to HC-06...",
		"connected to HC-06",
		"Speed: 1500 (Neutral)  Steering: 1500 (Center)",
		"Speed: 1600",
		"Steering: 1400",
		"connected  Speed: 1500 (Neutral)  Steering: 1500 (Center)  T: --°C",
		"disconnected from HC-06",
		"not connected to HC-06",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "1800", "input after quit is ignored")
}

func TestRun_NoAutoConnect(t *testing.T) {
	dev := fakelink.New("HC-06")
	c, _, out := newLinked(t, dev, Options{In: strings.NewReader("S1200\nconnect\nconnect\nS1200\n")})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, dev.Opens())
	assert.Equal(t, []string{"E1500", "S1500", "S1200"}, dev.Stream().Frames())

	text := out.String()
	assert.Contains(t, text, "not connected to HC-06")
	assert.Contains(t, text, "already connected to HC-06")
}

func TestRun_BadInput(t *testing.T) {
	dev := fakelink.New("HC-06")
	c, _, out := newLinked(t, dev, Options{In: strings.NewReader("E2500\nX1500\nhelp\n"), AutoConnect: true})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"E1500", "S1500"}, dev.Stream().Frames())
	text := out.String()
	assert.Contains(t, text, "outside [1000, 2000]")
	assert.Contains(t, text, `unknown command "X1500"`)
	assert.Contains(t, text, LineHelp)
}

func TestRun_CancelledContext(t *testing.T) {
	dev := fakelink.New("HC-06")
	r, w := io.Pipe()
	defer w.Close()
	c, m, _ := newLinked(t, dev, Options{In: r, AutoConnect: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == session.Connected }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
	assert.Equal(t, session.Disconnected, m.State())
}

func TestConnect_Retries(t *testing.T) {
	dev := fakelink.New("HC-06")
	dev.FailOpen(nil)
	c, m, out := newLinked(t, dev, Options{Retries: 2, RetryDelay: time.Millisecond, MaxDelay: time.Millisecond})

	err := c.connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, dev.Opens())
	assert.Equal(t, session.Disconnected, m.State())
	assert.Equal(t, 3, strings.Count(out.String(), "could not connect to HC-06"))
}

// countingDevice counts the opens of the device it wraps.
type countingDevice struct {
	transport.Device
	opens atomic.Int32
}

func (d *countingDevice) Open(ctx context.Context) (transport.ByteStream, error) {
	d.opens.Add(1)
	return d.Device.Open(ctx)
}

// A bridge that is not listening yet refuses the dial; --retries keeps
// trying it.
func TestConnect_RetriesRefusedBridge(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)
	dev := &countingDevice{Device: &transport.TCPDevice{
		Label:   "bench",
		Address: util.FormatAddr("127.0.0.1", port),
		Timeout: time.Second,
	}}

	var out bytes.Buffer
	c := New(Options{Device: dev, Out: &out, Retries: 3, RetryDelay: time.Millisecond, MaxDelay: time.Millisecond})
	m := session.New(session.Config{PollInterval: time.Millisecond, Listener: c})
	c.Attach(m)

	err = c.connect(context.Background())
	var ce *ncerr.ConnectError
	require.ErrorAs(t, err, &ce)
	var ne *ncerr.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.False(t, ne.Retryable, "a refused dial is not a temporary network error")

	assert.EqualValues(t, 4, dev.opens.Load())
	assert.Equal(t, 4, strings.Count(out.String(), "could not connect to bench"))
	assert.Equal(t, session.Disconnected, m.State())
}

func TestConnect_PermissionNotRetried(t *testing.T) {
	dev := fakelink.New("HC-06")
	dev.FailOpen(fmt.Errorf("%w: /dev/rfcomm0", ncerr.ErrPermissionDenied))
	c, _, _ := newLinked(t, dev, Options{Retries: 5, RetryDelay: time.Millisecond})

	err := c.connect(context.Background())
	assert.ErrorIs(t, err, ncerr.ErrPermissionDenied)
	assert.Equal(t, 1, dev.Opens())
}

// fakeLink records what the console asks of it.
type fakeLink struct {
	state    session.State
	sent     []string
	connects int
	sendErr  error
}

func (f *fakeLink) Connect(context.Context, transport.Device) error {
	f.connects++
	f.state = session.Connected
	return nil
}

func (f *fakeLink) Disconnect() error {
	f.state = session.Disconnected
	return nil
}

func (f *fakeLink) SendCommand(ch protocol.Channel, pwm int) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	cmd, err := protocol.NewCommand(ch, pwm)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, cmd.String())
	return nil
}

func (f *fakeLink) State() session.State { return f.state }

func TestHandleKey(t *testing.T) {
	link := &fakeLink{}
	c := New(Options{Device: fakelink.New("HC-06")})
	c.Attach(link)
	ctx := context.Background()

	assert.False(t, c.handleKey(ctx, 'c'))
	assert.Equal(t, 1, link.connects)

	for _, k := range []byte("wwdaas ") {
		assert.False(t, c.handleKey(ctx, k))
	}
	assert.Equal(t,
		[]string{"E1550", "E1600", "S1550", "S1500", "S1450", "E1550", "E1500", "S1500"},
		link.sent)

	// Throttle saturates at the top of the range.
	link.sent = nil
	for i := 0; i < 15; i++ {
		c.handleKey(ctx, 'w')
	}
	throttle, _ := c.Values()
	assert.Equal(t, protocol.MaxPWM, throttle)
	assert.Equal(t, "E2000", link.sent[len(link.sent)-1])

	assert.False(t, c.handleKey(ctx, 'c'))
	assert.Equal(t, session.Disconnected, link.state)

	assert.False(t, c.handleKey(ctx, 'x'))
	assert.True(t, c.handleKey(ctx, 'q'))
	assert.True(t, c.handleKey(ctx, ctrlC))
}

func TestHandleKey_RejectedSendKeepsValue(t *testing.T) {
	link := &fakeLink{state: session.Connected, sendErr: ncerr.ErrBusy}
	c := New(Options{Device: fakelink.New("HC-06")})
	c.Attach(link)

	c.handleKey(context.Background(), 'w')
	throttle, _ := c.Values()
	assert.Equal(t, protocol.NeutralPWM, throttle)
}

func TestHandleKey_RepeatLimited(t *testing.T) {
	link := &fakeLink{state: session.Connected}
	c := New(Options{Device: fakelink.New("HC-06"), RepeatRate: 0.001, RepeatBurst: 2})
	c.Attach(link)

	for i := 0; i < 5; i++ {
		c.handleKey(context.Background(), 'd')
	}
	assert.Equal(t, []string{"S1550", "S1600"}, link.sent)

	// Neutral is never limited.
	c.handleKey(context.Background(), ' ')
	assert.Equal(t, []string{"S1550", "S1600", "E1500", "S1500"}, link.sent)
}

func TestListenerRendering(t *testing.T) {
	var out bytes.Buffer
	c := New(Options{Device: fakelink.New("HC-06"), Out: &out})

	assert.Equal(t, protocol.TelemetryPlaceholder, c.Telemetry())
	c.OnTelemetry(protocol.Telemetry{Raw: "T:23.5C"})
	assert.Equal(t, "T: 23.5°C", c.Telemetry())
	c.OnTelemetry(protocol.Telemetry{Raw: "T:hotC"})
	assert.Equal(t, "T:hotC", c.Telemetry())

	c.OnSendRejected(session.ReasonBusy)
	c.OnStatusChanged(session.StatusConnectionLost)
	c.OnStatusChanged(session.StatusDisconnected)
	assert.Equal(t, "T: --°C", c.Telemetry())

	assert.Equal(t, strings.Join([]string{
		"T: 23.5°C",
		"T:hotC",
		"please wait before sending another command",
		"connection to HC-06 lost",
		"disconnected from HC-06",
		"T: --°C",
		"",
	}, "\n"), out.String())
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		ch      protocol.Channel
		pwm     int
		wantErr bool
	}{
		{"E1600", protocol.Throttle, 1600, false},
		{"s 1400", protocol.Steering, 1400, false},
		{"S1000", protocol.Steering, 1000, false},
		{"E999", 0, 0, true},
		{"E", 0, 0, true},
		{"Efast", 0, 0, true},
		{"T:23C", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ch, pwm, err := ParseCommand(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ch, ch)
			assert.Equal(t, tt.pwm, pwm)
		})
	}
}

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	n, err := crlfWriter{&buf}.Write([]byte("a\nb\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "a\r\nb\r\n", buf.String())
}

func TestRun_NoLink(t *testing.T) {
	c := New(Options{Device: fakelink.New("HC-06")})
	assert.Error(t, c.Run(context.Background()))
}
