// Package nak implements the per-sender negative-acknowledgement receive
// window used to order, buffer, and recover a single sender's multicast
// stream: RetransmitTable, the Default and RangeBased Retransmitter
// variants, and the NakWindow that integrates them behind ordered-delivery
// semantics.
package nak

import (
	"fmt"

	"github.com/nakwindow/nakwindow/pkg/guuid"
)

// Seqno is a strictly positive, monotonic sequence number assigned by a
// sender to each multicast message. Seqno 0 is reserved and means "none".
type Seqno uint64

// SenderID identifies the remote group member a NakWindow tracks.
type SenderID = guuid.GUUID

// Message is the opaque application payload stored per seqno. The wire
// format and transport that produced it are outside this component's
// scope; NakWindow never inspects it.
type Message = any

// Digest is the atomic snapshot (low, highest_delivered, highest_received)
// describing a window's progress.
type Digest struct {
	Low              Seqno
	HighestDelivered Seqno
	HighestReceived  Seqno
}

func (d Digest) String() string {
	return fmt.Sprintf("Digest{low=%d, highest_delivered=%d, highest_received=%d}",
		d.Low, d.HighestDelivered, d.HighestReceived)
}

// Listener observes gap-creation and gap-fill events raised by a
// NakWindow. Every method is invoked outside the window's write lock, so
// a listener may safely call back into the window (e.g. to read a
// digest) without deadlocking.
type Listener interface {
	// MissingMessageReceived fires once per gap-filling Add (case 3).
	MissingMessageReceived(seqno Seqno, sender SenderID)
	// MessageGapDetected fires once per gap-creating Add (case 4).
	MessageGapDetected(from, to Seqno, sender SenderID)
}
