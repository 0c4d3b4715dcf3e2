// Package routerstub maintains a dynamic set of connections to external
// gossip/router servers used for bootstrap and presence in networks
// lacking IP multicast, with independent periodic reconnect/ping
// background tasks per connection.
package routerstub

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is a RouterStub's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Transport performs the actual network operations a RouterStub drives.
// Kept as an interface so tests can substitute a fake without a real
// router process.
type Transport interface {
	Connect(ctx context.Context, host string, port int, bindAddr, physicalAddress string) error
	Disconnect(ctx context.Context, logicalAddress string) error
	Ping(ctx context.Context) error
}

// RouterStub is a handle to one external router connection.
type RouterStub struct {
	mu sync.Mutex

	Host           string
	Port           int
	BindAddr       string
	LogicalName    string
	LogicalAddress string

	transport Transport
	state     State
	doneCh    chan struct{}
}

// NewRouterStub constructs a stub in the disconnected state; it is not
// connected until the manager starts reconnecting it. logicalName and
// logicalAddress identify the router to GET_PHYSICAL_ADDRESS resolution.
func NewRouterStub(host string, port int, bindAddr, logicalName, logicalAddress string, transport Transport) *RouterStub {
	return &RouterStub{
		Host:           host,
		Port:           port,
		BindAddr:       bindAddr,
		LogicalName:    logicalName,
		LogicalAddress: logicalAddress,
		transport:      transport,
		state:          StateDisconnected,
		doneCh:         make(chan struct{}),
	}
}

// Equal reports whether two stubs address the same endpoint, used by
// CreateAndRegister to detect and replace a stale registration.
func (s *RouterStub) Equal(other *RouterStub) bool {
	if other == nil {
		return false
	}
	return s.Host == other.Host && s.Port == other.Port && s.BindAddr == other.BindAddr
}

// State returns the stub's current connection state.
func (s *RouterStub) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RouterStub) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Connect attempts to establish the stub's connection against the given
// resolved physical address, transitioning to Connected on success or
// Broken on failure.
func (s *RouterStub) Connect(ctx context.Context, logicalName, logicalAddress, physicalAddress string) error {
	s.mu.Lock()
	s.state = StateConnecting
	if logicalName != "" {
		s.LogicalName = logicalName
	}
	if logicalAddress != "" {
		s.LogicalAddress = logicalAddress
	}
	s.mu.Unlock()

	err := s.transport.Connect(ctx, s.Host, s.Port, s.BindAddr, physicalAddress)
	if err != nil {
		s.setState(StateBroken)
		return fmt.Errorf("connect to %s:%d failed: %w", s.Host, s.Port, err)
	}
	s.setState(StateConnected)
	return nil
}

// Disconnect tears the connection down, swallowing a transport failure
// since the caller (DisconnectAll) treats it as best-effort.
func (s *RouterStub) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	logicalAddress := s.LogicalAddress
	s.mu.Unlock()

	err := s.transport.Disconnect(ctx, logicalAddress)
	s.setState(StateDisconnected)
	return err
}

// CheckConnection pings the remote end; a failure does not itself flip
// the state, it is the caller's responsibility to interpret repeated
// failures as CONNECTION_BROKEN via ConnectionStatusChange.
func (s *RouterStub) CheckConnection(ctx context.Context) error {
	return s.transport.Ping(ctx)
}

// Interrupt signals a blocked worker (if any) to unwind; used before
// Destroy to unstick an in-flight connect attempt.
func (s *RouterStub) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.doneCh:
	default:
		close(s.doneCh)
	}
}

// Destroy marks the stub as permanently disconnected. Safe to call more
// than once.
func (s *RouterStub) Destroy() {
	s.Interrupt()
	s.setState(StateDisconnected)
}

// Join waits up to timeout for the stub's worker to finish (signaled via
// Interrupt/Destroy), returning true if it finished in time.
func (s *RouterStub) Join(timeout time.Duration) bool {
	select {
	case <-s.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}
