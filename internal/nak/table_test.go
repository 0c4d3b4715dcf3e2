package nak

import (
	"testing"
	"time"
)

func TestRetransmitTablePutGet(t *testing.T) {
	table := NewRetransmitTable(1, 4, 8, 1.5, time.Minute, false)

	table.Put(1, "one")
	table.Put(2, "two")

	if got := table.Get(1); got != "one" {
		t.Errorf("Get(1) = %v, want one", got)
	}
	if got := table.Get(2); got != "two" {
		t.Errorf("Get(2) = %v, want two", got)
	}
	if got := table.Get(3); got != nil {
		t.Errorf("Get(3) = %v, want nil gap", got)
	}
	if table.Size() != 2 {
		t.Errorf("Size() = %d, want 2", table.Size())
	}
}

func TestRetransmitTableGrowsRows(t *testing.T) {
	table := NewRetransmitTable(1, 2, 4, 1.5, time.Minute, false)

	for s := Seqno(1); s <= 100; s++ {
		table.Put(s, int(s))
	}
	for s := Seqno(1); s <= 100; s++ {
		if got := table.Get(s); got != int(s) {
			t.Fatalf("Get(%d) = %v, want %d", s, got, s)
		}
	}
	if table.Size() != 100 {
		t.Errorf("Size() = %d, want 100", table.Size())
	}
}

func TestRetransmitTablePutIfAbsent(t *testing.T) {
	table := NewRetransmitTable(1, 4, 8, 1.5, time.Minute, false)

	prev := table.PutIfAbsent(5, "first")
	if prev != nil {
		t.Errorf("PutIfAbsent on empty slot returned %v, want nil", prev)
	}
	prev = table.PutIfAbsent(5, "second")
	if prev != "first" {
		t.Errorf("PutIfAbsent on filled slot returned %v, want first", prev)
	}
	if got := table.Get(5); got != "first" {
		t.Errorf("Get(5) = %v, want first (unchanged)", got)
	}
}

func TestRetransmitTableRemove(t *testing.T) {
	table := NewRetransmitTable(1, 4, 8, 1.5, time.Minute, false)
	table.Put(1, "x")

	if got := table.Remove(1); got != "x" {
		t.Errorf("Remove(1) = %v, want x", got)
	}
	if table.Size() != 0 {
		t.Errorf("Size() after remove = %d, want 0", table.Size())
	}
	if got := table.Remove(1); got != nil {
		t.Errorf("Remove(1) again = %v, want nil", got)
	}
}

func TestRetransmitTableGetRangeSkipsGaps(t *testing.T) {
	table := NewRetransmitTable(1, 4, 8, 1.5, time.Minute, false)
	table.Put(1, "a")
	table.Put(3, "c")
	table.Put(4, "d")

	out := table.GetRange(1, 4)
	if len(out) != 3 {
		t.Fatalf("GetRange returned %d messages, want 3 (gap at 2 skipped)", len(out))
	}
	if out[0] != "a" || out[1] != "c" || out[2] != "d" {
		t.Errorf("GetRange = %v, want [a c d]", out)
	}
}

func TestRetransmitTablePurgeAndCompact(t *testing.T) {
	table := NewRetransmitTable(1, 4, 4, 1.5, time.Minute, false)
	for s := Seqno(1); s <= 16; s++ {
		table.Put(s, int(s))
	}

	table.Purge(8)
	if table.Get(5) != nil {
		t.Errorf("Get(5) after Purge(8) = %v, want nil", table.Get(5))
	}
	if table.Get(9) != int(9) {
		t.Errorf("Get(9) after Purge(8) = %v, want 9 (untouched)", table.Get(9))
	}

	capBefore := table.Capacity()
	table.Compact()
	if table.Capacity() >= capBefore {
		t.Errorf("Capacity() after Compact = %d, want less than %d", table.Capacity(), capBefore)
	}
	if table.Get(9) != int(9) {
		t.Errorf("Get(9) after Compact = %v, want 9 (still addressable)", table.Get(9))
	}
}

func TestRetransmitTableNumNullMessages(t *testing.T) {
	table := NewRetransmitTable(1, 4, 8, 1.5, time.Minute, false)
	table.Put(1, "a")
	table.Put(3, "c")

	if got := table.NumNullMessages(3); got != 1 {
		t.Errorf("NumNullMessages(3) = %d, want 1 (gap at 2)", got)
	}
}

func TestRetransmitTableClear(t *testing.T) {
	table := NewRetransmitTable(1, 4, 8, 1.5, time.Minute, false)
	table.Put(1, "a")
	table.Put(2, "b")

	table.Clear(10)
	if table.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", table.Size())
	}
	if got := table.Get(10); got != nil {
		t.Errorf("Get(10) after Clear = %v, want nil", got)
	}
	table.Put(10, "fresh")
	if got := table.Get(10); got != "fresh" {
		t.Errorf("Get(10) after Clear+Put = %v, want fresh", got)
	}
}
