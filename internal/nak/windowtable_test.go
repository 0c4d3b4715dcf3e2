package nak

import (
	"testing"
	"time"

	"github.com/nakwindow/nakwindow/pkg/guuid"
)

func TestWindowTableGetOrCreateReusesWindow(t *testing.T) {
	sched := NewTimeScheduler(2)
	defer sched.Stop()

	wt := NewWindowTable()
	sender, _ := guuid.New()

	build := func() *NakWindow {
		return NewNakWindow(1, Config{
			Sender:           sender,
			Scheduler:        sched,
			RetransmitDelays: NewInterval(5 * time.Second),
			Table:            DefaultTableTuning(),
		})
	}

	w1 := wt.GetOrCreate(sender, build)
	w2 := wt.GetOrCreate(sender, build)
	if w1 != w2 {
		t.Error("GetOrCreate should return the same window on the second call")
	}
}

func TestWindowTableDigestOf(t *testing.T) {
	sched := NewTimeScheduler(2)
	defer sched.Stop()

	wt := NewWindowTable()
	a, _ := guuid.New()
	b, _ := guuid.New()

	wt.GetOrCreate(a, func() *NakWindow {
		return NewNakWindow(1, Config{Sender: a, Scheduler: sched, RetransmitDelays: NewInterval(5 * time.Second), Table: DefaultTableTuning()})
	})
	wa := wt.Get(a)
	wa.Add(1, "x")
	wa.Add(2, "y")
	wa.Remove()

	digests := wt.DigestOf(a, b)
	if len(digests) != 1 {
		t.Fatalf("DigestOf(a,b) returned %d entries, want 1 (b has no window)", len(digests))
	}
	d := digests[a]
	if d.HighestDelivered != 1 || d.HighestReceived != 2 {
		t.Errorf("digest = %+v, want HighestDelivered=1 HighestReceived=2", d)
	}
}

func TestWindowTableRemoveDestroysWindow(t *testing.T) {
	sched := NewTimeScheduler(2)
	defer sched.Stop()

	wt := NewWindowTable()
	sender, _ := guuid.New()
	wt.GetOrCreate(sender, func() *NakWindow {
		return NewNakWindow(1, Config{Sender: sender, Scheduler: sched, RetransmitDelays: NewInterval(5 * time.Second), Table: DefaultTableTuning()})
	})

	wt.Remove(sender)
	if wt.Get(sender) != nil {
		t.Error("Get after Remove should return nil")
	}
}
