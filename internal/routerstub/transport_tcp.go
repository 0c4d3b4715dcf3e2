package routerstub

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPTransport is the default Transport: a single dialed TCP connection
// per stub, redialed on each Connect call and liveness-checked with a
// zero-length write.
//
// Grounded on internal/quantum/transport/conn.go's dial-and-track-state
// Conn, narrowed from a UDP packet socket down to the plain dial/close/
// write-probe a RouterStub bootstrap link needs.
type TCPTransport struct {
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport builds a TCPTransport that dials with dialTimeout (5s
// if zero or negative).
func NewTCPTransport(dialTimeout time.Duration) *TCPTransport {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &TCPTransport{dialTimeout: dialTimeout}
}

// Connect dials physicalAddress, closing any previously held connection
// first. bindAddr, when non-empty, pins the local address of the dial.
func (t *TCPTransport) Connect(ctx context.Context, host string, port int, bindAddr, physicalAddress string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	if bindAddr != "" {
		local, err := net.ResolveTCPAddr("tcp", bindAddr)
		if err != nil {
			return fmt.Errorf("resolve bind address %s: %w", bindAddr, err)
		}
		dialer.LocalAddr = local
	}

	conn, err := dialer.DialContext(ctx, "tcp", physicalAddress)
	if err != nil {
		return fmt.Errorf("dial %s: %w", physicalAddress, err)
	}
	t.conn = conn
	return nil
}

// Disconnect closes the held connection, if any.
func (t *TCPTransport) Disconnect(ctx context.Context, logicalAddress string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Ping probes liveness with a zero-byte write, since the router-stub
// wire protocol above this layer defines its own heartbeat framing.
func (t *TCPTransport) Ping(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	_, err := conn.Write(nil)
	return err
}
