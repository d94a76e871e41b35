// Package notify turns raw status observations into de-duplicated,
// sequence-ordered notification events. Both the push channel handler
// and the polling fallback feed the same Apply entry point, so a race
// between the two channels during handover can never produce a double
// notification.
package notify

import (
	"log"
	"sync"
	"time"

	"guesttrack/orders"
)

// Event is one confirmed, de-duplicated status transition. Seq is
// monotonic per notifier instance; consumers use it to discard
// out-of-order duplicates.
type Event struct {
	OrderID   string        `json:"order_id"`
	OldStatus orders.Status `json:"old_status"`
	NewStatus orders.Status `json:"new_status"`
	Timestamp time.Time     `json:"timestamp"`
	Seq       uint64        `json:"seq"`
}

// Terminal reports whether the event's new status is terminal.
func (e Event) Terminal() bool {
	return orders.IsTerminal(e.NewStatus)
}

// Notifier tracks the last known status per order and emits exactly one
// event per genuine transition.
type Notifier struct {
	mu   sync.Mutex
	last map[string]orders.Status
	seq  uint64
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{last: make(map[string]orders.Status)}
}

// Seed records an order's baseline status without emitting an event.
// Used for the initial fetch, so tracking an order never notifies about
// a status the user is already looking at.
func (n *Notifier) Seed(orderID string, status orders.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, known := n.last[orderID]; !known {
		n.last[orderID] = status
	}
}

// Apply compares the new snapshot's status against the last known
// status. It returns nil when nothing changed (including the second
// delivery of the same transition via the other channel), otherwise it
// records the new status and returns a freshly sequenced event.
//
// A backward transition is logged as an anomaly but still applied: the
// server is the source of truth.
func (n *Notifier) Apply(orderID string, snap *orders.Snapshot) *Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	old, known := n.last[orderID]
	if !known {
		n.last[orderID] = snap.Status
		return nil
	}
	if old == snap.Status {
		return nil
	}
	if !orders.IsForward(old, snap.Status) {
		log.Printf("status anomaly for order %s: %s -> %s", orderID, old, snap.Status)
	}

	n.last[orderID] = snap.Status
	n.seq++
	return &Event{
		OrderID:   orderID,
		OldStatus: old,
		NewStatus: snap.Status,
		Timestamp: time.Now().UTC(),
		Seq:       n.seq,
	}
}

// Last returns the last known status for an order.
func (n *Notifier) Last(orderID string) (orders.Status, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.last[orderID]
	return s, ok
}

// Forget drops the tracked state for an order.
func (n *Notifier) Forget(orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.last, orderID)
}
