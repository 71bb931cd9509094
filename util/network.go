package util

import (
	"fmt"
	"net"
	"strconv"
)

// NormalizeAddr returns addr as host:port, appending defaultPort when
// addr has no port.  Ports outside 1-65535 are rejected.
func NormalizeAddr(addr string, defaultPort int) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port present: treat the whole string as the host.
		host, portStr = addr, strconv.Itoa(defaultPort)
	}
	if host == "" {
		return "", fmt.Errorf("address %q has no host", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid port in %q", addr)
	}
	return FormatAddr(host, port), nil
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
