package nak

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nakwindow/nakwindow/pkg/guuid"
)

func newTestWindow(t *testing.T, kind RetransmitterKind) (*NakWindow, *TimeScheduler) {
	t.Helper()
	sched := NewTimeScheduler(2)
	sender, _ := guuid.New()
	w := NewNakWindow(1, Config{
		Sender:           sender,
		Scheduler:        sched,
		RetransmitKind:   kind,
		RetransmitDelays: NewInterval(5 * time.Second),
		Table:            DefaultTableTuning(),
	})
	return w, sched
}

func TestNakWindowInOrderAddAndRemove(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	for s := Seqno(1); s <= 3; s++ {
		if !w.Add(s, int(s)) {
			t.Fatalf("Add(%d) = false, want true", s)
		}
	}

	for s := Seqno(1); s <= 3; s++ {
		msg := w.Remove()
		if msg != int(s) {
			t.Fatalf("Remove() = %v, want %d", msg, s)
		}
	}
	if msg := w.Remove(); msg != nil {
		t.Errorf("Remove() on empty window = %v, want nil", msg)
	}
}

func TestNakWindowDuplicateRejected(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	if !w.Add(1, "a") {
		t.Fatal("first Add(1) should succeed")
	}
	if w.Add(1, "a-dup") {
		t.Error("duplicate Add(1) should return false")
	}
	if got := w.Get(1); got != "a" {
		t.Errorf("Get(1) after duplicate Add = %v, want a (unchanged)", got)
	}
}

func TestNakWindowGapDetectedThenFilled(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	if !w.Add(1, "a") {
		t.Fatal("Add(1) should succeed")
	}
	// case 4: arriving ahead of expected opens a gap at seqno 2
	if !w.Add(3, "c") {
		t.Fatal("Add(3) should succeed and open a gap")
	}
	if got := w.Size(); got != 1 {
		t.Fatalf("Size() after gap = %d, want 1 (seqno 2 missing)", got)
	}

	// case 3: seqno 2 fills the gap
	if !w.Add(2, "b") {
		t.Fatal("Add(2) should succeed, filling the gap")
	}
	if got := w.Size(); got != 0 {
		t.Errorf("Size() after gap fill = %d, want 0", got)
	}

	for _, want := range []string{"a", "b", "c"} {
		msg := w.Remove()
		if msg != want {
			t.Fatalf("Remove() = %v, want %v", msg, want)
		}
	}
}

func TestNakWindowListenerFiresOutsideLock(t *testing.T) {
	sched := NewTimeScheduler(2)
	defer sched.Stop()
	sender, _ := guuid.New()

	fl := &fakeListener{}
	w := NewNakWindow(1, Config{
		Sender:           sender,
		Scheduler:        sched,
		RetransmitKind:   RetransmitterDefault,
		RetransmitDelays: NewInterval(5 * time.Second),
		Table:            DefaultTableTuning(),
		Listener:         fl,
	})

	w.Add(1, "a")
	w.Add(3, "c") // gap detected
	if atomic.LoadInt32(&fl.gapDetected) != 1 {
		t.Errorf("gapDetected calls = %d, want 1", fl.gapDetected)
	}

	w.Add(2, "b") // gap filled
	if atomic.LoadInt32(&fl.gapFilled) != 1 {
		t.Errorf("gapFilled calls = %d, want 1", fl.gapFilled)
	}
}

func TestNakWindowListenerPanicRecovered(t *testing.T) {
	sched := NewTimeScheduler(2)
	defer sched.Stop()
	sender, _ := guuid.New()

	w := NewNakWindow(1, Config{
		Sender:           sender,
		Scheduler:        sched,
		RetransmitKind:   RetransmitterDefault,
		RetransmitDelays: NewInterval(5 * time.Second),
		Table:            DefaultTableTuning(),
		Listener:         panicListener{},
	})

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("listener panic leaked out of Add: %v", r)
		}
	}()
	w.Add(1, "a")
	w.Add(3, "c")
}

func TestNakWindowRemoveManyDrainsAndClearsProcessing(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	for s := Seqno(1); s <= 5; s++ {
		w.Add(s, int(s))
	}

	var processing atomic.Bool
	processing.Store(true)

	out := w.RemoveMany(&processing, 3)
	if len(out) != 3 {
		t.Fatalf("RemoveMany(3) returned %d messages, want 3", len(out))
	}
	if !processing.Load() {
		t.Error("processing flag cleared after a non-empty drain, want still set")
	}

	out = w.RemoveMany(&processing, 10)
	if len(out) != 2 {
		t.Fatalf("second RemoveMany returned %d messages, want 2", len(out))
	}

	out = w.RemoveMany(&processing, 10)
	if len(out) != 0 {
		t.Fatalf("RemoveMany on empty window returned %d messages, want 0", len(out))
	}
	if processing.Load() {
		t.Error("processing flag not cleared after an empty drain")
	}
}

func TestNakWindowStablePurgesTable(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	for s := Seqno(1); s <= 5; s++ {
		w.Add(s, int(s))
	}
	w.Stable(3)

	if got := w.Get(2); got != nil {
		t.Errorf("Get(2) after Stable(3) = %v, want nil (purged)", got)
	}
	if got := w.Get(5); got != int(5) {
		t.Errorf("Get(5) after Stable(3) = %v, want 5 (untouched)", got)
	}
}

func TestNakWindowStableClearsRetransmitter(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	w.Add(1, "m1")
	w.Add(5, "m5") // opens a gap over 2,3,4
	w.Remove()     // highestDelivered = 1

	if got := w.Size(); got != 3 {
		t.Fatalf("Size() before Stable = %d, want 3", got)
	}

	w.Stable(1)

	if got := w.Size(); got != 0 {
		t.Errorf("Size() after Stable(1) = %d, want 0 (retransmitter entries for 2,3,4 purged)", got)
	}
}

func TestNakWindowRemoveManyPeekLeavesMessagesInTable(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	for s := Seqno(1); s <= 3; s++ {
		w.Add(s, int(s))
	}

	peeked := w.RemoveManyPeek(nil, 0)
	if len(peeked) != 3 {
		t.Fatalf("RemoveManyPeek returned %d messages, want 3", len(peeked))
	}

	if got := w.Digest().HighestDelivered; got != 3 {
		t.Errorf("HighestDelivered after RemoveManyPeek = %d, want 3", got)
	}
	if got := w.Get(1); got != int(1) {
		t.Errorf("Get(1) after RemoveManyPeek = %v, want 1 (still stored)", got)
	}

	drained := w.RemoveMany(nil, 0)
	if len(drained) != 0 {
		t.Fatalf("RemoveMany after RemoveManyPeek returned %d messages, want 0 (nothing left undelivered)", len(drained))
	}
}

func TestNakWindowDestroyRejectsFurtherOps(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	w.Add(1, "a")
	w.Destroy()

	if w.Add(2, "b") {
		t.Error("Add after Destroy should return false")
	}
	if msg := w.Remove(); msg != nil {
		t.Errorf("Remove after Destroy = %v, want nil", msg)
	}
}

func TestNakWindowDigestReflectsState(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	w.Add(1, "a")
	w.Add(2, "b")
	w.Remove()

	d := w.Digest()
	if d.HighestReceived != 2 {
		t.Errorf("Digest.HighestReceived = %d, want 2", d.HighestReceived)
	}
	if d.HighestDelivered != 1 {
		t.Errorf("Digest.HighestDelivered = %d, want 1", d.HighestDelivered)
	}
}

func TestNakWindowSizeParityAcrossRetransmitterKinds(t *testing.T) {
	for _, kind := range []RetransmitterKind{RetransmitterDefault, RetransmitterRangeBased} {
		w, sched := newTestWindow(t, kind)
		w.Add(1, "a")
		w.Add(10, "j") // opens a gap spanning seqnos 2-9

		if got := w.Size(); got != 8 {
			t.Errorf("kind=%d Size() = %d, want 8 missing seqnos", kind, got)
		}
		sched.Stop()
	}
}

func TestNakWindowLossRate(t *testing.T) {
	w, sched := newTestWindow(t, RetransmitterDefault)
	defer sched.Stop()

	w.Add(1, "a")
	w.Add(4, "d") // gap at 2, 3

	rate := w.LossRate()
	if rate <= 0 || rate > 1 {
		t.Fatalf("LossRate() = %v, want in (0, 1]", rate)
	}
}

type fakeListener struct {
	gapDetected int32
	gapFilled   int32
}

func (f *fakeListener) MissingMessageReceived(seqno Seqno, sender SenderID) {
	atomic.AddInt32(&f.gapFilled, 1)
}

func (f *fakeListener) MessageGapDetected(from, to Seqno, sender SenderID) {
	atomic.AddInt32(&f.gapDetected, 1)
}

type panicListener struct{}

func (panicListener) MissingMessageReceived(seqno Seqno, sender SenderID) { panic("boom") }
func (panicListener) MessageGapDetected(from, to Seqno, sender SenderID)  { panic("boom") }
