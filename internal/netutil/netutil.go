// Package netutil holds socket helpers shared by the ingestion servers.
package netutil

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// ListenConfig returns a net.ListenConfig that sets SO_REUSEADDR on every
// socket it creates, so a restarted process can rebind its ports at once.
func ListenConfig() *net.ListenConfig {
	return &net.ListenConfig{Control: reuseAddr}
}

// ListenPacket opens a UDP socket on addr with SO_REUSEADDR set.
func ListenPacket(ctx context.Context, addr string) (net.PacketConn, error) {
	return ListenConfig().ListenPacket(ctx, "udp", addr)
}

// Listen opens a TCP listener on addr with SO_REUSEADDR set.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	return ListenConfig().Listen(ctx, "tcp", addr)
}

// IsExpectedCloseError reports whether err is a normal connection or socket
// termination: EOF, closed socket, broken pipe, or connection reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
