package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "rclink/internal/errors"
	"rclink/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// Addr returns the gateway's host:port.
func (c *SSHConfig) Addr() string {
	return util.FormatAddr(c.Host, c.Port)
}

// SSHTunnel implements [Tunnel] over a single SSH client connection to
// the gateway.  Each Dial opens a direct-tcpip channel to the bridge.
type SSHTunnel struct {
	cfg *SSHConfig
	log *util.Logger

	mu     sync.RWMutex
	client *ssh.Client // nil before Connect, after Close, and once the gateway hangs up
}

// NewSSHTunnel creates a tunnel that is ready to [Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHTunnel{cfg: cfg, log: logger}
}

// Connect dials the gateway and completes the SSH handshake.  Rejected
// credentials are reported as [ncerr.ErrAuthFailed].
func (t *SSHTunnel) Connect(ctx context.Context) error {
	ccfg, err := t.clientConfig()
	if err != nil {
		return err
	}

	addr := t.cfg.Addr()
	t.log.Debug("ssh: dialing %s as %s", addr, t.cfg.User)

	dialer := net.Dialer{Timeout: t.cfg.ConnTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	client, err := handshake(ctx, conn, addr, ccfg)
	if err != nil {
		return ncerr.WrapSSH("handshake", t.cfg.Host, t.cfg.Port, err)
	}

	t.mu.Lock()
	old := t.client
	t.client = client
	t.mu.Unlock()
	if old != nil {
		old.Close() //nolint:errcheck
	}

	go t.watch(client)
	t.log.Verbose("ssh: connected to %s", addr)
	return nil
}

func (t *SSHTunnel) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := BuildAuthMethods(t.cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("auth", t.cfg.Host, t.cfg.Port, err)
	}
	hk, err := hostKeyCallback(t.cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("hostkey", t.cfg.Host, t.cfg.Port, err)
	}
	return &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: hk,
		Timeout:         t.cfg.ConnTimeout,
	}, nil
}

// handshake runs the client side of the SSH handshake on conn.
// ssh.NewClientConn takes no context, so cancelling ctx closes conn
// underneath it.  conn is closed on every error path.
func handshake(ctx context.Context, conn net.Conn, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	sconn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		// ctx fired: conn is already closed, whatever the handshake said.
		if err == nil {
			sconn.Close() //nolint:errcheck
		}
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %v", ncerr.ErrAuthFailed, err)
		}
		return nil, err
	}
	return ssh.NewClient(sconn, chans, reqs), nil
}

// Dial forwards a connection to address through the gateway.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return nil, ncerr.ErrTunnelClosed
	}

	t.log.Debug("ssh: forwarding %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection.  It is safe to call repeatedly.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// IsAlive reports whether the gateway connection is up.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}

// watch waits for client to end and forgets it, unless a later Connect
// or Close already replaced it.
func (t *SSHTunnel) watch(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.client = nil
	}
	t.mu.Unlock()

	t.log.Debug("ssh: gateway connection closed: %v", err)
}
