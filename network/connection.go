package network

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Role records which side opened the session.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// ConnectionState represents the lifecycle state of one peer connection.
type ConnectionState string

const (
	StateDisconnected     ConnectionState = "DISCONNECTED"
	StateConnecting       ConnectionState = "CONNECTING"
	StateHandshakePending ConnectionState = "HANDSHAKE_PENDING"
	StateConnected        ConnectionState = "CONNECTED"
)

// ConnectionInfo is a snapshot of one registered connection.
type ConnectionInfo struct {
	PeerName    string          `json:"peer_name"`
	Role        Role            `json:"role"`
	RemoteAddr  string          `json:"remote_addr"`
	State       ConnectionState `json:"state"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// Connection is one framed session with a peer. Writes are serialized so a
// frame or a whole file run never interleaves with another write.
type Connection struct {
	conn       net.Conn
	role       Role
	remoteAddr string

	// reader feeds the decoder; only the session goroutine touches it.
	reader *deadlineConn
	writer *deadlineConn

	peerName    string
	connectedAt time.Time
	registered  atomic.Bool

	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   ConnectionState

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

func newConnection(conn net.Conn, role Role, writeTimeout time.Duration) *Connection {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Connection{
		conn:       conn,
		role:       role,
		remoteAddr: remote,
		reader:     &deadlineConn{conn: conn},
		writer:     &deadlineConn{conn: conn, timeout: writeTimeout},
		state:      StateConnecting,
		closed:     make(chan struct{}),
	}
}

// PeerName returns the name the peer announced in its handshake.
func (c *Connection) PeerName() string {
	return c.peerName
}

// Role returns whether this side accepted or dialed the session.
func (c *Connection) Role() Role {
	return c.role
}

// RemoteAddr returns the peer's socket address.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Done is closed when the connection is fully disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// LastError returns the terminal connection error, if any.
func (c *Connection) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		PeerName:    c.peerName,
		Role:        c.role,
		RemoteAddr:  c.remoteAddr,
		State:       c.State(),
		ConnectedAt: c.connectedAt,
	}
}

// WriteFrame encodes and writes one frame.
func (c *Connection) WriteFrame(f Frame) error {
	return c.withWriter(func(w io.Writer) error {
		return EncodeFrame(w, f)
	})
}

// withWriter runs fn while holding the write lock.
func (c *Connection) withWriter(fn func(w io.Writer) error) error {
	select {
	case <-c.closed:
		if err := c.LastError(); err != nil {
			return err
		}
		return net.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := fn(c.writer); err != nil {
		return fmt.Errorf("write to %s: %w", c.remoteAddr, err)
	}
	return nil
}

// Close terminates the connection.
func (c *Connection) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = state
}

// closeWithError closes the socket once and reports whether this call did it.
func (c *Connection) closeWithError(err error) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true

		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		c.setState(StateDisconnected)
		_ = c.conn.Close()
		close(c.closed)
	})
	return first
}
