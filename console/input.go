package console

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"rclink/internal/protocol"
	"rclink/internal/session"
)

const ctrlC = 0x03

// KeyHelp describes the raw-mode key bindings.
const KeyHelp = "w/s throttle  a/d steering  space neutral  c connect/disconnect  q quit"

// LineHelp describes the line-mode commands.
const LineHelp = "commands: E<pwm>  S<pwm>  neutral  connect  disconnect  status  help  quit"

func terminalFD(r io.Reader) (int, bool) {
	f, ok := r.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// runRaw puts the terminal in raw mode and handles single key presses.
func (c *Console) runRaw(ctx context.Context, fd int) error {
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw terminal: %w", err)
	}
	defer term.Restore(fd, old) //nolint:errcheck

	c.mu.Lock()
	plain := c.out
	c.out = crlfWriter{plain}
	c.printf("%s", KeyHelp)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.out = plain
		c.mu.Unlock()
	}()

	keys := make(chan byte, 16)
	stop := make(chan struct{})
	defer close(stop)
	go pump(c.in, func(chunk []byte) {
		for _, b := range chunk {
			select {
			case keys <- b:
			case <-stop:
				return
			}
		}
	}, func() { close(keys) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok || c.handleKey(ctx, k) {
				return nil
			}
		}
	}
}

// handleKey acts on one key press and reports whether to quit.
func (c *Console) handleKey(ctx context.Context, k byte) (quit bool) {
	switch k {
	case 'w', 'W':
		c.nudge(protocol.Throttle, KeyProgress) //nolint:errcheck
	case 's', 'S':
		c.nudge(protocol.Throttle, -KeyProgress) //nolint:errcheck
	case 'd', 'D':
		c.nudge(protocol.Steering, KeyProgress) //nolint:errcheck
	case 'a', 'A':
		c.nudge(protocol.Steering, -KeyProgress) //nolint:errcheck
	case ' ':
		c.neutral() //nolint:errcheck
	case 'c', 'C':
		c.toggle(ctx)
	case 'q', 'Q', ctrlC:
		return true
	}
	return false
}

// runLines handles one command per input line.
func (c *Console) runLines(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || c.handleLine(ctx, line) {
				return nil
			}
		}
	}
}

// handleLine acts on one typed command and reports whether to quit.
func (c *Console) handleLine(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch strings.ToLower(line) {
	case "quit", "exit", "q":
		return true
	case "connect":
		if c.link.State() != session.Disconnected {
			c.mu.Lock()
			c.printf("already connected to %s", c.device.Name())
			c.mu.Unlock()
			return false
		}
		c.toggle(ctx)
		return false
	case "disconnect":
		c.link.Disconnect() //nolint:errcheck
		return false
	case "neutral":
		c.neutral() //nolint:errcheck
		return false
	case "status":
		throttle, steering := c.Values()
		c.mu.Lock()
		c.printf("%s  %s  %s  %s", c.link.State(),
			protocol.Throttle.Label(throttle), protocol.Steering.Label(steering), c.reading)
		c.mu.Unlock()
		return false
	case "help", "?":
		c.mu.Lock()
		c.printf("%s", LineHelp)
		c.mu.Unlock()
		return false
	}

	ch, pwm, err := ParseCommand(line)
	if err != nil {
		c.mu.Lock()
		c.printf("%v", err)
		c.mu.Unlock()
		return false
	}
	if err := c.link.SendCommand(ch, pwm); err != nil {
		c.log.Verbose("send %s: %v", line, err)
		return false
	}
	c.record(ch, pwm)
	return false
}

// ParseCommand parses a typed frame such as "E1600" or "s 1400".
// Values outside the actuation range are rejected, not clamped.
func ParseCommand(s string) (protocol.Channel, int, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("unknown command %q (try help)", s)
	}
	ch, ok := protocol.ParseChannel(strings.ToUpper(s[:1])[0])
	if !ok {
		return 0, 0, fmt.Errorf("unknown command %q (try help)", s)
	}
	pwm, err := strconv.Atoi(strings.TrimSpace(s[1:]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad value in %q", s)
	}
	if _, err := protocol.NewCommand(ch, pwm); err != nil {
		return 0, 0, err
	}
	return ch, pwm, nil
}

// pump reads r until EOF, handing each chunk to fn.
func pump(r io.Reader, fn func([]byte), done func()) {
	defer done()
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// crlfWriter translates "\n" to "\r\n" for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
