package nak

import "sync"

// WindowTable owns one NakWindow per sender, the shape a multicast
// protocol layer actually needs: a group has many senders, each with its
// own independent receive window. Grounded on spec.md §6's Digest format
// plus the teacher's map-of-named-state registries (the same
// registry-of-handles pattern internal/routerstub.Manager uses for
// stubs), generalized here to NakWindows keyed by sender.
type WindowTable struct {
	mu      sync.RWMutex
	windows map[SenderID]*NakWindow
}

// NewWindowTable returns an empty WindowTable.
func NewWindowTable() *WindowTable {
	return &WindowTable{windows: make(map[SenderID]*NakWindow)}
}

// GetOrCreate returns the existing window for sender, or builds one with
// newWindow and stores it if absent.
func (wt *WindowTable) GetOrCreate(sender SenderID, newWindow func() *NakWindow) *NakWindow {
	wt.mu.RLock()
	w, ok := wt.windows[sender]
	wt.mu.RUnlock()
	if ok {
		return w
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()
	if w, ok := wt.windows[sender]; ok {
		return w
	}
	w = newWindow()
	wt.windows[sender] = w
	return w
}

// Get returns the window for sender, or nil if none has been created.
func (wt *WindowTable) Get(sender SenderID) *NakWindow {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	return wt.windows[sender]
}

// Remove drops and destroys the window for sender, e.g. when that member
// leaves the group.
func (wt *WindowTable) Remove(sender SenderID) {
	wt.mu.Lock()
	w, ok := wt.windows[sender]
	if ok {
		delete(wt.windows, sender)
	}
	wt.mu.Unlock()
	if ok {
		w.Destroy()
	}
}

// Senders returns a snapshot of every sender this table currently tracks
// a window for.
func (wt *WindowTable) Senders() []SenderID {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	out := make([]SenderID, 0, len(wt.windows))
	for s := range wt.windows {
		out = append(out, s)
	}
	return out
}

// DigestOf snapshots the (low, highest_delivered, highest_received)
// digest of every named sender that has a window, skipping any sender
// with none. Used to answer a joining member's state-transfer request.
func (wt *WindowTable) DigestOf(senders ...SenderID) map[SenderID]Digest {
	out := make(map[SenderID]Digest, len(senders))
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	for _, s := range senders {
		if w, ok := wt.windows[s]; ok {
			out[s] = w.Digest()
		}
	}
	return out
}

// AllDigests snapshots every tracked sender's digest.
func (wt *WindowTable) AllDigests() map[SenderID]Digest {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	out := make(map[SenderID]Digest, len(wt.windows))
	for s, w := range wt.windows {
		out[s] = w.Digest()
	}
	return out
}
