package channel

import (
	"encoding/json"

	"guesttrack/orders"
)

// State is the observable connection state of one scope's subscription.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is entered after the reconnect budget is exhausted
	// and is permanent for the remainder of the session.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MessageTypeStatusUpdate identifies a status-change push message.
const MessageTypeStatusUpdate = "status_update"

// Message is the wire envelope delivered on the push channel.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StatusUpdate is the payload of a status_update message.
type StatusUpdate struct {
	OrderID   string        `json:"order_id"`
	OldStatus orders.Status `json:"old_status"`
	NewStatus orders.Status `json:"new_status"`
}

// StatusHandler receives raw server-pushed status changes for a scope.
// No ordering is guaranteed between handlers for the same event.
type StatusHandler func(StatusUpdate)

// StateHandler observes connection-state transitions per scope.
type StateHandler func(Scope, State)
