package nak

import (
	"context"
	"fmt"
	"sync"

	"github.com/nakwindow/nakwindow/internal/metrics"
)

type defaultEntry struct {
	seqno     Seqno
	interval  *Interval
	task      *Task
	fireCount int
}

// DefaultRetransmitter tracks one timer-backed entry per missing seqno.
// Simple and exact, at the cost of one Interval/Task pair per gap; prefer
// RangeBasedRetransmitter when gaps are typically long contiguous runs.
//
// Grounded on the per-packet RTO timer bookkeeping in
// internal/quantum/reliability/send_buffer.go's SentPacket map, adapted
// from "unacked sent packet" to "seqno missing from a received stream".
type DefaultRetransmitter struct {
	mu       sync.Mutex
	sender   SenderID
	sched    *TimeScheduler
	template *Interval
	onFire   RetransmitFunc
	entries  map[Seqno]*defaultEntry

	metrics   *metrics.Metrics
	senderTag string
}

// NewDefaultRetransmitter builds a Retransmitter that fires onFire once
// per backoff step, per missing seqno, until Remove/RemoveRange clears it.
func NewDefaultRetransmitter(sender SenderID, sched *TimeScheduler, template *Interval, onFire RetransmitFunc) *DefaultRetransmitter {
	if template == nil {
		template = DefaultRetransmitIntervals()
	}
	return &DefaultRetransmitter{
		sender:   sender,
		sched:    sched,
		template: template,
		onFire:   onFire,
		entries:  make(map[Seqno]*defaultEntry),
	}
}

// WithMetrics attaches m as the destination for this Retransmitter's
// fire counter, labeled with senderTag. Passing a nil m disables
// reporting.
func (r *DefaultRetransmitter) WithMetrics(m *metrics.Metrics, senderTag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	r.senderTag = senderTag
}

func (r *DefaultRetransmitter) AddRange(from, to Seqno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := from; s <= to; s++ {
		if _, exists := r.entries[s]; exists {
			continue
		}
		e := &defaultEntry{seqno: s, interval: r.template.Clone()}
		r.armLocked(e)
		r.entries[s] = e
	}
}

func (r *DefaultRetransmitter) armLocked(e *defaultEntry) {
	delay := e.interval.Next()
	seqno := e.seqno
	e.task = r.sched.Schedule(delay, func() {
		r.fire(seqno)
	})
}

func (r *DefaultRetransmitter) fire(seqno Seqno) {
	r.mu.Lock()
	e, ok := r.entries[seqno]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.fireCount++
	r.armLocked(e)
	sender := r.sender
	m, tag := r.metrics, r.senderTag
	r.mu.Unlock()

	if m != nil {
		m.RetransmitFires.WithLabelValues(tag).Inc()
	}
	if r.onFire != nil {
		r.onFire(context.Background(), RetransmitCommand{Sender: sender, From: seqno, To: seqno})
	}
}

func (r *DefaultRetransmitter) Remove(seqno Seqno) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[seqno]
	if !ok {
		return 0
	}
	e.task.Cancel()
	delete(r.entries, seqno)
	return e.fireCount
}

func (r *DefaultRetransmitter) RemoveRange(from, to Seqno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := from; s <= to; s++ {
		if e, ok := r.entries[s]; ok {
			e.task.Cancel()
			delete(r.entries, s)
		}
	}
}

func (r *DefaultRetransmitter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *DefaultRetransmitter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.task.Cancel()
	}
	r.entries = make(map[Seqno]*defaultEntry)
}

// SetRetransmitTimeouts replaces the backoff template used for any entry
// armed from this point forward. Entries already outstanding keep running
// on the interval they were armed with.
func (r *DefaultRetransmitter) SetRetransmitTimeouts(template *Interval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if template == nil {
		template = DefaultRetransmitIntervals()
	}
	r.template = template
}

// Stats reports the number of outstanding seqnos and the sum of their
// fire counts.
func (r *DefaultRetransmitter) Stats() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	fires := 0
	for _, e := range r.entries {
		fires += e.fireCount
	}
	return fmt.Sprintf("default: %d outstanding, %d total fires", len(r.entries), fires)
}
