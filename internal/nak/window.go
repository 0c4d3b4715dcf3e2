package nak

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nakwindow/nakwindow/internal/metrics"
	"github.com/nakwindow/nakwindow/internal/tracing"
)

// RetransmitterKind selects which Retransmitter implementation a
// NakWindow builds for itself.
type RetransmitterKind int

const (
	// RetransmitterDefault tracks one timer per missing seqno.
	RetransmitterDefault RetransmitterKind = iota
	// RetransmitterRangeBased coalesces contiguous missing seqnos.
	RetransmitterRangeBased
)

// TableTuning configures the backing RetransmitTable's row geometry and
// purge behavior.
type TableTuning struct {
	NumRows           int
	MsgsPerRow        int
	ResizeFactor      float64
	AutomaticPurging  bool
	MaxCompactionTime time.Duration
}

// DefaultTableTuning returns the tuning values the teacher's buffer
// sizing defaults to, scaled for a per-sender NAK window.
func DefaultTableTuning() TableTuning {
	return TableTuning{
		NumRows:           defaultNumRows,
		MsgsPerRow:        defaultMsgsPerRow,
		ResizeFactor:      1.2,
		AutomaticPurging:  true,
		MaxCompactionTime: 30 * time.Second,
	}
}

// Config carries everything a NakWindow needs beyond the sender identity
// and starting seqno.
type Config struct {
	Sender           SenderID
	Scheduler        *TimeScheduler
	RetransmitKind   RetransmitterKind
	RetransmitDelays *Interval // nil uses DefaultRetransmitIntervals
	Table            TableTuning
	OnRetransmit     RetransmitFunc
	Listener         Listener
	Logger           *zap.Logger // nil uses zap.NewNop()
	Metrics          *metrics.Metrics // nil disables metric reporting
	Tracer           *tracing.Tracer  // nil (or disabled) makes Start a no-op
}

// NakWindow orders, buffers, and recovers one sender's multicast stream.
// It tracks the highest delivered and highest received seqno, stores
// received-but-undelivered messages in a RetransmitTable, and drives gap
// recovery through a Retransmitter.
//
// A single RWMutex guards every counter, the table, and the
// retransmitter; listener callbacks are always invoked after the lock is
// released, via a deferred closure list built up during the locked
// section.
//
// Grounded on internal/quantum/reliability/recv_buffer.go's ReceiveBuffer
// (single-lock discipline, NextExpected/Statistics shape), generalized
// from a fixed-size ring to the RetransmitTable's growable row store and
// from a SACK-bitmap model to full per-seqno retransmission tracking.
type NakWindow struct {
	mu sync.RWMutex

	sender SenderID
	table  *RetransmitTable
	retx   Retransmitter
	kind   RetransmitterKind

	highestDelivered Seqno
	highestReceived  Seqno
	low              Seqno

	listener Listener
	logger   *zap.Logger

	totalReceived    uint64
	destroyed        bool
	smoothedLossRate float64
	smoothedSeeded   bool

	metrics   *metrics.Metrics
	senderTag string
	tracer    *tracing.Tracer
	limiter   *rate.Limiter
}

// NewNakWindow builds a NakWindow for cfg.Sender, starting at startSeqno
// (the first seqno this window will ever consider "received").
func NewNakWindow(startSeqno Seqno, cfg Config) *NakWindow {
	start := clampSeqno(startSeqno)
	tuning := cfg.Table
	table := NewRetransmitTable(start, tuning.NumRows, tuning.MsgsPerRow, tuning.ResizeFactor, tuning.MaxCompactionTime, tuning.AutomaticPurging)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &NakWindow{
		sender:           cfg.Sender,
		table:            table,
		kind:             cfg.RetransmitKind,
		highestDelivered: start - 1,
		highestReceived:  start - 1,
		low:              start - 1,
		listener:         cfg.Listener,
		logger:           logger,
		metrics:          cfg.Metrics,
		senderTag:        senderTag(cfg.Sender),
		tracer:           cfg.Tracer,
		limiter:          rate.NewLimiter(rate.Every(10*time.Second), 1),
	}

	onFire := cfg.OnRetransmit
	switch cfg.RetransmitKind {
	case RetransmitterRangeBased:
		rb := NewRangeBasedRetransmitter(cfg.Sender, cfg.Scheduler, cfg.RetransmitDelays, onFire)
		rb.WithMetrics(cfg.Metrics, w.senderTag)
		w.retx = rb
	default:
		d := NewDefaultRetransmitter(cfg.Sender, cfg.Scheduler, cfg.RetransmitDelays, onFire)
		d.WithMetrics(cfg.Metrics, w.senderTag)
		w.retx = d
	}
	return w
}

// Add inserts a received message under seqno. It returns true if the
// message was newly stored (cases 1, 3, 4) and false if it was a
// duplicate or arrived below the window's low-water mark (case 2,
// stale).
func (w *NakWindow) Add(seqno Seqno, msg Message) bool {
	_, span := w.tracer.Start(context.Background(), "nak.window.add")
	defer span.End()

	var callbacks []func()
	defer runCallbacks(&callbacks)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return false
	}

	switch {
	case seqno == w.highestReceived+1:
		// case 1: in-order arrival
		w.table.Put(seqno, msg)
		w.highestReceived = seqno
		w.totalReceived++
		return true

	case seqno <= w.highestDelivered:
		// case 2: already delivered, discard
		return false

	case seqno <= w.highestReceived:
		// case 3: fills a known gap, or a duplicate of a still-buffered message
		prev := w.table.PutIfAbsent(seqno, msg)
		if prev != nil {
			return false // duplicate
		}
		w.totalReceived++
		w.retx.Remove(seqno)
		if l := w.listener; l != nil {
			sender, s := w.sender, seqno
			callbacks = append(callbacks, func() { safeListenerCall(func() { l.MissingMessageReceived(s, sender) }) })
		}
		return true

	default:
		// case 4: arrives ahead of expected, opening a new gap
		gapFrom := w.highestReceived + 1
		gapTo := seqno - 1
		w.table.Put(seqno, msg)
		w.highestReceived = seqno
		w.totalReceived++
		w.retx.AddRange(gapFrom, gapTo)
		if w.metrics != nil {
			w.metrics.GapsDetected.WithLabelValues(w.senderTag).Inc()
		}
		if l := w.listener; l != nil {
			sender := w.sender
			callbacks = append(callbacks, func() { safeListenerCall(func() { l.MessageGapDetected(gapFrom, gapTo, sender) }) })
		}
		return true
	}
}

// Remove returns the message at highestDelivered+1, advancing
// highestDelivered on success, or nil if that slot is null or missing.
// The slot is also cleared from the backing table; callers that want to
// peek at the next deliverable message without consuming it should use
// RemovePeek instead.
func (w *NakWindow) Remove() Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeLocked(true)
}

// RemovePeek behaves like Remove but leaves the slot in the backing
// table untouched, so a later Remove or RemovePeek observes the same
// message again.
func (w *NakWindow) RemovePeek() Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeLocked(false)
}

func (w *NakWindow) removeLocked(physicallyRemove bool) Message {
	if w.destroyed {
		return nil
	}
	next := w.highestDelivered + 1
	if next > w.highestReceived {
		return nil
	}
	msg := w.table.Get(next)
	if msg == nil {
		return nil
	}
	if physicallyRemove {
		w.table.Remove(next)
	}
	w.highestDelivered = next
	if w.metrics != nil {
		w.metrics.MessagesDelivered.WithLabelValues(w.senderTag).Inc()
	}
	return msg
}

// RemoveMany drains up to maxResults deliverable messages in order,
// physically removing each from the backing table. If processing is
// non-nil and nothing was drained, it is atomically cleared before
// returning, letting a caller use it as a "delivery loop already
// running" guard that self-clears on an empty pass.
func (w *NakWindow) RemoveMany(processing *atomic.Bool, maxResults int) []Message {
	return w.removeMany(processing, maxResults, true)
}

// RemoveManyPeek behaves like RemoveMany but leaves every drained slot in
// the backing table untouched, so a later Remove/RemoveMany/RemovePeek
// observes the same messages again.
func (w *NakWindow) RemoveManyPeek(processing *atomic.Bool, maxResults int) []Message {
	return w.removeMany(processing, maxResults, false)
}

func (w *NakWindow) removeMany(processing *atomic.Bool, maxResults int, physicallyRemove bool) []Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Message
	for maxResults <= 0 || len(out) < maxResults {
		msg := w.removeLocked(physicallyRemove)
		if msg == nil {
			break
		}
		out = append(out, msg)
	}
	if len(out) == 0 && processing != nil {
		processing.Store(false)
	}
	return out
}

// Stable purges every seqno <= seqno from the backing table and cancels
// any outstanding retransmit timers for that span, since the whole group
// has confirmed delivery up to that point and the messages will never
// again be needed for retransmission. seqno must not exceed
// highestDelivered: a stability request for messages this window hasn't
// even delivered locally yet is logged and ignored rather than applied.
func (w *NakWindow) Stable(seqno Seqno) {
	_, span := w.tracer.Start(context.Background(), "nak.window.stable")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return
	}
	if seqno > w.highestDelivered {
		if w.limiter.Allow() {
			w.logger.Warn("ignoring stable request above highest delivered",
				zap.Int64("seqno", int64(seqno)),
				zap.Int64("highest_delivered", int64(w.highestDelivered)),
			)
		}
		return
	}
	from := w.low
	if seqno > w.low {
		w.low = seqno
	}
	w.table.Purge(seqno)
	if from <= seqno {
		w.retx.RemoveRange(from, seqno)
	}
}

// Destroy releases the window's table and cancels every outstanding
// retransmission timer. A destroyed window rejects all further Add and
// Remove calls.
func (w *NakWindow) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return
	}
	w.retx.Reset()
	w.table.Clear(w.highestReceived + 1)
	w.destroyed = true
}

// Digest returns an atomic snapshot of the window's progress.
func (w *NakWindow) Digest() Digest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Digest{
		Low:              w.low,
		HighestDelivered: w.highestDelivered,
		HighestReceived:  w.highestReceived,
	}
}

// SetHighestDelivered forcibly sets the delivery cursor, used when
// resuming a window from an externally supplied digest (e.g. state
// transfer on join).
func (w *NakWindow) SetHighestDelivered(seqno Seqno) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.highestDelivered = seqno
}

// Get returns the stored message at seqno without affecting delivery
// state, or nil if it is a gap.
func (w *NakWindow) Get(seqno Seqno) Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.table.Get(seqno)
}

// GetRange returns the stored, non-gap messages in [from, to].
func (w *NakWindow) GetRange(from, to Seqno) []Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.table.GetRange(from, to)
}

// TotalReceived returns the lifetime count of messages successfully
// stored by Add (across cases 1, 3, and 4).
func (w *NakWindow) TotalReceived() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.totalReceived
}

// Size returns the number of seqnos still pending retransmission.
func (w *NakWindow) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.retx.Size()
}

// LossRate is pending_retransmits / total_messages, or 0 if either is
// zero.
func (w *NakWindow) LossRate() float64 {
	w.mu.RLock()
	pending := w.retx.Size()
	total := w.totalReceived
	w.mu.RUnlock()
	if pending == 0 || total == 0 {
		return 0
	}
	return float64(pending) / float64(total)
}

// SmoothedLossRate samples the current LossRate and folds it into the
// window's running EWMA (70% new / 30% old), seeded with the first
// non-zero sample, and returns the updated value.
func (w *NakWindow) SmoothedLossRate() float64 {
	cur := w.LossRate()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.smoothedSeeded {
		if cur == 0 {
			return 0
		}
		w.smoothedLossRate = cur
		w.smoothedSeeded = true
	} else {
		w.smoothedLossRate = 0.7*cur + 0.3*w.smoothedLossRate
	}
	return w.smoothedLossRate
}

// ReportMetrics snapshots this window's gauges onto m, keyed by the
// window's sender. Intended to be called periodically by a
// metrics.Sampler, not from the hot Add/Remove path.
func (w *NakWindow) ReportMetrics(m *metrics.Metrics) {
	if m == nil {
		return
	}
	tag := w.senderTag
	m.PendingRetransmits.WithLabelValues(tag).Set(float64(w.Size()))
	m.LossRate.WithLabelValues(tag).Set(w.LossRate())
	m.SmoothedLossRate.WithLabelValues(tag).Set(w.SmoothedLossRate())
	m.TableFillFactor.WithLabelValues(tag).Set(w.table.FillFactor())
}

func senderTag(sender SenderID) string {
	return sender.String()
}

func runCallbacks(callbacks *[]func()) {
	for _, cb := range *callbacks {
		cb()
	}
}

func safeListenerCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
