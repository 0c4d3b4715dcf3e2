package routerstub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nakwindow/nakwindow/internal/metrics"
	"github.com/nakwindow/nakwindow/internal/nak"
)

// Manager maintains the lifecycle of a dynamic set of RouterStubs, with
// an independent periodic background task (reconnector or pinger) per
// stub.
//
// The stub list is copy-on-write: reads take an atomic load with no
// locking, writes build a new slice under writeMu. The task map is a
// sync.Map, matching the "lock-free concurrent map" the stub-to-task
// association requires — only one task per stub may be scheduled at a
// time, and the replacement pattern is cancel-then-store, never
// swap-in-place.
//
// Grounded on internal/gateway/discovery/etcd.go's reconnect-on-
// keepalive-loss loop for the per-stub retry discipline, and
// internal/gateway/breaker/manager.go's registry-of-named-handles shape
// for the manager's overall structure.
type Manager struct {
	writeMu  sync.Mutex
	stubs    atomic.Pointer[[]*RouterStub]
	tasks    sync.Map // *RouterStub -> *nak.Task

	sched    *nak.TimeScheduler
	resolver Resolver
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics // nil disables metric reporting
}

// NewManager builds a Manager. interval is the fixed delay between
// reconnect attempts and between pings once connected.
func NewManager(sched *nak.TimeScheduler, resolver Resolver, interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	empty := make([]*RouterStub, 0)
	m := &Manager{
		sched:    sched,
		resolver: resolver,
		interval: interval,
		logger:   logger,
	}
	m.stubs.Store(&empty)
	return m
}

// WithMetrics attaches m as the destination for this Manager's
// connection-state gauge and connect/ping-failure counters. Passing nil
// disables reporting.
func (m *Manager) WithMetrics(metrics *metrics.Metrics) *Manager {
	m.metrics = metrics
	return m
}

func (m *Manager) reportState(stub *RouterStub, state State) {
	if m.metrics == nil {
		return
	}
	m.metrics.RouterStubState.WithLabelValues(stub.Host).Set(float64(state))
}

// CreateAndRegister builds a stub for (host, port, bindAddr), removing
// and destroying any previously registered stub with the same endpoint.
func (m *Manager) CreateAndRegister(host string, port int, bindAddr, logicalName, logicalAddress string, transport Transport) *RouterStub {
	stub := NewRouterStub(host, port, bindAddr, logicalName, logicalAddress, transport)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	current := *m.stubs.Load()
	next := make([]*RouterStub, 0, len(current)+1)
	for _, s := range current {
		if s.Equal(stub) {
			m.cancelTask(s)
			s.Destroy()
			continue
		}
		next = append(next, s)
	}
	next = append(next, stub)
	m.stubs.Store(&next)
	return stub
}

// Register adds an already-constructed stub to the managed set.
func (m *Manager) Register(stub *RouterStub) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	current := *m.stubs.Load()
	next := make([]*RouterStub, len(current), len(current)+1)
	copy(next, current)
	next = append(next, stub)
	m.stubs.Store(&next)
}

// Unregister removes stub from the managed set without destroying it,
// returning it if it was present.
func (m *Manager) Unregister(stub *RouterStub) *RouterStub {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	current := *m.stubs.Load()
	next := make([]*RouterStub, 0, len(current))
	var found *RouterStub
	for _, s := range current {
		if s == stub {
			found = s
			m.cancelTask(s)
			continue
		}
		next = append(next, s)
	}
	m.stubs.Store(&next)
	return found
}

// UnregisterAndDestroy removes and destroys stub, reporting whether it
// was found.
func (m *Manager) UnregisterAndDestroy(stub *RouterStub) bool {
	found := m.Unregister(stub)
	if found == nil {
		return false
	}
	found.Destroy()
	return true
}

// Stubs returns a snapshot of the currently registered stubs.
func (m *Manager) Stubs() []*RouterStub {
	return *m.stubs.Load()
}

// DisconnectAll best-effort disconnects every registered stub, ignoring
// individual failures.
func (m *Manager) DisconnectAll() {
	ctx := context.Background()
	for _, s := range m.Stubs() {
		if err := s.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnect failed", zap.String("host", s.Host), zap.Error(err))
		}
	}
}

// DestroyAll stops every stub's periodic task, destroys each stub, and
// clears the managed set.
func (m *Manager) DestroyAll() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	for _, s := range *m.stubs.Load() {
		m.cancelTask(s)
		s.Destroy()
	}
	empty := make([]*RouterStub, 0)
	m.stubs.Store(&empty)
}

func (m *Manager) cancelTask(stub *RouterStub) {
	if v, ok := m.tasks.LoadAndDelete(stub); ok {
		v.(*nak.Task).Cancel()
	}
}

// StartReconnecting cancels any prior task for stub and schedules a
// fixed-delay reconnector that resolves stub's logical address via the
// Resolver and calls stub.Connect every m.interval, per spec.md §4.4 —
// not an escalating backoff.
func (m *Manager) StartReconnecting(stub *RouterStub) {
	m.cancelTask(stub)
	task := m.sched.ScheduleFixedDelay(0, m.interval, func() {
		m.reconnectTick(stub)
	})
	m.tasks.Store(stub, task)
}

func (m *Manager) reconnectTick(stub *RouterStub) {
	ctx := context.Background()
	physicalAddress, err := m.resolver.Resolve(ctx, stub.LogicalAddress)
	if err != nil {
		m.logger.Warn("GET_PHYSICAL_ADDRESS failed", zap.String("logical_address", stub.LogicalAddress), zap.Error(err))
		return
	}
	if err := stub.Connect(ctx, stub.LogicalName, stub.LogicalAddress, physicalAddress); err != nil {
		m.logger.Warn("stub connect failed", zap.String("host", stub.Host), zap.Error(err))
		return
	}
	if m.metrics != nil {
		m.metrics.RouterStubConnects.WithLabelValues(stub.Host).Inc()
	}
	m.ConnectionStatusChange(stub, StateConnected)
}

// StopReconnecting cancels the reconnect task and replaces it with a
// fixed-delay pinger that starts after 1 second.
func (m *Manager) StopReconnecting(stub *RouterStub) {
	m.cancelTask(stub)

	task := m.sched.ScheduleFixedDelay(time.Second, m.interval, func() {
		m.pingTick(stub)
	})
	m.tasks.Store(stub, task)
}

func (m *Manager) pingTick(stub *RouterStub) {
	ctx := context.Background()
	if err := stub.CheckConnection(ctx); err != nil {
		m.logger.Warn("stub ping failed", zap.String("host", stub.Host), zap.Error(err))
		if m.metrics != nil {
			m.metrics.RouterStubPingFail.WithLabelValues(stub.Host).Inc()
		}
	}
}

// ConnectionStatusChange reacts to a stub's state transition: a break
// triggers interrupt+destroy+reconnect, a successful connect switches to
// pinging, and a disconnect waits briefly for the stub's worker to
// settle.
func (m *Manager) ConnectionStatusChange(stub *RouterStub, newState State) {
	m.reportState(stub, newState)
	switch newState {
	case StateBroken:
		stub.Interrupt()
		stub.Destroy()
		m.StartReconnecting(stub)
	case StateConnected:
		m.StopReconnecting(stub)
	case StateDisconnected:
		stub.Join(m.interval)
	}
}
