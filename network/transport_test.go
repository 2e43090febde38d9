package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// pipeTransport connects managers in memory with net.Pipe.
type pipeTransport struct {
	mu        sync.Mutex
	listeners map[string]*pipeListener
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{listeners: make(map[string]*pipeListener)}
}

func (p *pipeTransport) Listen(address string) (net.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.listeners[address]; exists {
		return nil, fmt.Errorf("address %q already in use", address)
	}
	listener := &pipeListener{
		owner:  p,
		addr:   pipeAddr(address),
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
	p.listeners[address] = listener
	return listener, nil
}

func (p *pipeTransport) Dial(ctx context.Context, address string) (net.Conn, error) {
	p.mu.Lock()
	listener := p.listeners[address]
	p.mu.Unlock()
	if listener == nil {
		return nil, fmt.Errorf("dial %q: connection refused", address)
	}

	client, server := net.Pipe()
	select {
	case listener.conns <- server:
		return client, nil
	case <-listener.closed:
		return nil, fmt.Errorf("dial %q: connection refused", address)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pipeListener struct {
	owner     *pipeTransport
	addr      pipeAddr
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.owner.mu.Lock()
		delete(l.owner.listeners, string(l.addr))
		l.owner.mu.Unlock()
	})
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return l.addr
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

func TestPipeTransportDialAndAccept(t *testing.T) {
	transport := newPipeTransport()
	listener, err := transport.Listen("host")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := transport.Dial(ctx, "host")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for accept")
	}
	defer func() {
		_ = server.Close()
	}()

	go func() {
		_ = WriteFrame(client, []byte("MESSAGE:abc"))
	}()
	payload, err := ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(payload) != "MESSAGE:abc" {
		t.Fatalf("unexpected payload %q", payload)
	}

	_ = listener.Close()
	if _, err := transport.Dial(ctx, "host"); err == nil {
		t.Fatalf("expected dial to closed listener to fail")
	}
}
