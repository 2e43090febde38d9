package network

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestConnectionCloseIsIdempotent(t *testing.T) {
	localConn, remoteConn := net.Pipe()
	defer func() {
		_ = remoteConn.Close()
	}()

	conn := newConnection(localConn, RoleClient, time.Second)
	if conn.State() != StateConnecting {
		t.Fatalf("expected new connection to be connecting, got %s", conn.State())
	}

	cause := errors.New("peer went away")
	if !conn.closeWithError(cause) {
		t.Fatalf("expected first close to report ownership")
	}
	if conn.closeWithError(errors.New("second")) {
		t.Fatalf("expected second close to be a no-op")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close after close failed: %v", err)
	}

	select {
	case <-conn.Done():
	default:
		t.Fatalf("expected Done to be closed")
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", conn.State())
	}
	if !errors.Is(conn.LastError(), cause) {
		t.Fatalf("expected first close cause to be kept, got %v", conn.LastError())
	}
	if err := conn.WriteFrame(MessageFrame("AAAA")); !errors.Is(err, cause) {
		t.Fatalf("expected write after close to report the close cause, got %v", err)
	}
}

func TestConnectionWriteTimesOutWithoutReader(t *testing.T) {
	localConn, remoteConn := net.Pipe()
	defer func() {
		_ = remoteConn.Close()
	}()

	conn := newConnection(localConn, RoleHost, 50*time.Millisecond)
	defer func() {
		_ = conn.Close()
	}()

	err := conn.WriteFrame(MessageFrame("AAAA"))
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected write timeout, got %v", err)
	}
}

func TestConnectionFramesReachPeer(t *testing.T) {
	localConn, remoteConn := net.Pipe()
	defer func() {
		_ = remoteConn.Close()
	}()

	conn := newConnection(localConn, RoleClient, time.Second)
	defer func() {
		_ = conn.Close()
	}()

	go func() {
		_ = conn.WriteFrame(HandshakeFrame("alice"))
	}()

	frame, err := NewDecoder(remoteConn).Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame != HandshakeFrame("alice") {
		t.Fatalf("unexpected frame %+v", frame)
	}
}
