package protocol

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "rclink/internal/errors"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		pwm  int
		want string
	}{
		{"throttle neutral", Throttle, 1500, "E1500\n"},
		{"steering neutral", Steering, 1500, "S1500\n"},
		{"throttle max", Throttle, 2000, "E2000\n"},
		{"steering min", Steering, 1000, "S1000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.ch, tt.pwm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncode_OutOfRange(t *testing.T) {
	for _, pwm := range []int{999, 2001, 0, -1500, 15000} {
		_, err := Encode(Steering, pwm)
		require.Error(t, err, "pwm %d", pwm)
		assert.ErrorIs(t, err, ncerr.ErrOutOfRange)

		var re *ncerr.RangeError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, pwm, re.Value)
	}
}

func TestEncode_UnknownChannel(t *testing.T) {
	_, err := Encode(Channel(7), 1500)
	assert.ErrorIs(t, err, ncerr.ErrUnknownChannel)
}

func TestCommand_NeutralAndString(t *testing.T) {
	cmd := Neutral(Throttle)
	assert.Equal(t, Throttle, cmd.Channel())
	assert.Equal(t, NeutralPWM, cmd.PWM())
	assert.Equal(t, "E1500", cmd.String())
	assert.Equal(t, []byte("E1500\n"), cmd.Encode())
}

func TestParseChannel(t *testing.T) {
	for _, ch := range []Channel{Throttle, Steering} {
		tag, ok := ch.Tag()
		require.True(t, ok)
		back, ok := ParseChannel(tag)
		require.True(t, ok)
		assert.Equal(t, ch, back)
	}
	_, ok := ParseChannel('X')
	assert.False(t, ok)
}

func TestChannelLabel(t *testing.T) {
	assert.Equal(t, "Speed: 1500 (Neutral)", Throttle.Label(1500))
	assert.Equal(t, "Speed: 1600", Throttle.Label(1600))
	assert.Equal(t, "Steering: 1500 (Center)", Steering.Label(1500))
	assert.Equal(t, "Steering: 1000", Steering.Label(1000))
}

func TestProgressMapping(t *testing.T) {
	assert.Equal(t, 1000, PWMFromProgress(0))
	assert.Equal(t, 1500, PWMFromProgress(50))
	assert.Equal(t, 2000, PWMFromProgress(100))
	assert.Equal(t, 2000, PWMFromProgress(140))
	assert.Equal(t, 1000, PWMFromProgress(-3))

	for p := 0; p <= 100; p++ {
		assert.Equal(t, p, ProgressFromPWM(PWMFromProgress(p)))
	}
	assert.Equal(t, 1000, Clamp(10))
	assert.Equal(t, 2000, Clamp(2500))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"T:23.5C", KindTelemetry},
		{"T:-4C", KindTelemetry},
		{"T:C", KindTelemetry},
		{"T:hotC", KindTelemetry},
		{"T:23.5", KindUnrecognized},
		{"X:1C", KindUnrecognized},
		{"t:23.5C", KindUnrecognized},
		{"T:23.5c", KindUnrecognized},
		{" T:23.5C", KindUnrecognized},
		{"T:23.5C\r", KindUnrecognized},
		{"T:", KindUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			tel, kind := Classify(tt.msg)
			assert.Equal(t, tt.want, kind)
			if kind == KindTelemetry {
				assert.Equal(t, tt.msg, tel.Raw)
			}
		})
	}
}

func TestTelemetry_Celsius(t *testing.T) {
	v, ok := Telemetry{Raw: "T:23.5C"}.Celsius()
	require.True(t, ok)
	assert.InDelta(t, 23.5, v, 1e-9)

	_, ok = Telemetry{Raw: "T:hotC"}.Celsius()
	assert.False(t, ok)
	assert.Equal(t, "hot", Telemetry{Raw: "T:hotC"}.Payload())
}

func collect(f *Framer, chunks ...[]byte) []string {
	var out []string
	for _, c := range chunks {
		for msg := range f.Feed(c) {
			out = append(out, msg)
		}
	}
	return out
}

func TestFramer_SplitAcrossReads(t *testing.T) {
	f := NewFramer()

	assert.Empty(t, collect(f, []byte("T:2")))
	assert.Equal(t, 3, f.Pending())

	assert.Equal(t, []string{"T:23.5C"}, collect(f, []byte("3.5C\nT:")))
	assert.Equal(t, 2, f.Pending())

	assert.Equal(t, []string{"T:24C", "noise"}, collect(f, []byte("24C\nnoise\n")))
	assert.Zero(t, f.Pending())
}

func TestFramer_DropsEmptyMessages(t *testing.T) {
	f := NewFramer()
	got := collect(f, []byte("\n\nT:1C\n\n\nX\n"))
	assert.Equal(t, []string{"T:1C", "X"}, got)
	assert.Zero(t, f.Pending())
}

func TestFramer_NoDelimiterKeepsGrowing(t *testing.T) {
	f := NewFramer()
	for i := 0; i < 100; i++ {
		assert.Empty(t, collect(f, []byte("abcdefgh")))
	}
	assert.Equal(t, 800, f.Pending())

	f.Reset()
	assert.Zero(t, f.Pending())
	assert.Equal(t, []string{"T:1C"}, collect(f, []byte("T:1C\n")))
}

func TestFramer_EarlyStopKeepsRemainder(t *testing.T) {
	f := NewFramer()
	for msg := range f.Feed([]byte("a\nb\nc\ntail")) {
		assert.Equal(t, "a", msg)
		break
	}
	assert.Equal(t, []string{"b", "c"}, collect(f, nil))
	assert.Equal(t, 4, f.Pending())
}

// Any chunking of the same bytes must yield the same messages as one
// feed of the whole stream.
func TestFramer_ChunkBoundaryIndependence(t *testing.T) {
	stream := []byte("T:21.0C\n\nnoise\nT:22.5C\nE1500\n\nT:-3C\npartial")
	want := collect(NewFramer(), stream)
	require.Equal(t, []string{"T:21.0C", "noise", "T:22.5C", "E1500", "T:-3C"}, want)

	for size := 1; size <= len(stream); size++ {
		f := NewFramer()
		var got []string
		for chunk := range slices.Chunk(stream, size) {
			got = append(got, collect(f, chunk)...)
		}
		assert.Equal(t, want, got, "chunk size %d", size)
		assert.Equal(t, len("partial"), f.Pending(), "chunk size %d", size)
	}

	// Every two-way split point as well.
	for cut := 0; cut <= len(stream); cut++ {
		got := collect(NewFramer(), stream[:cut], stream[cut:])
		assert.Equal(t, want, got, "cut at %d", cut)
	}
}
