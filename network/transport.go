package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Transport opens the byte streams sessions run over.
type Transport interface {
	Listen(address string) (net.Listener, error)
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TCPTransport is the default Transport.
type TCPTransport struct {
	// KeepAlive is the TCP keep-alive period; zero uses the OS default.
	KeepAlive time.Duration
}

// Listen opens a TCP listener.
func (t TCPTransport) Listen(address string) (net.Listener, error) {
	if address == "" {
		address = ":0"
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}
	return listener, nil
}

// Dial connects to a TCP peer.
func (t TCPTransport) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{KeepAlive: t.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}
	return conn, nil
}

// deadlineConn applies a fresh deadline to every read and write on conn while
// timeout is positive.
type deadlineConn struct {
	conn    net.Conn
	timeout time.Duration
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, fmt.Errorf("set read deadline: %w", err)
		}
	}
	return d.conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", err)
		}
	}
	return d.conn.Write(p)
}
