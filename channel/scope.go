package channel

// Scope is the identity a push subscription and polling loop are keyed
// by: either one specific order id or the general guest-tracking scope.
// It is always passed in explicitly, never derived from ambient state.
type Scope struct {
	orderID string
}

// OrderScope returns the scope for a single order id.
func OrderScope(orderID string) Scope {
	return Scope{orderID: orderID}
}

// GuestScope returns the general all-guest-orders scope.
func GuestScope() Scope {
	return Scope{}
}

// IsGuest reports whether this is the general guest scope.
func (s Scope) IsGuest() bool { return s.orderID == "" }

// OrderID returns the order id, or "" for the guest scope.
func (s Scope) OrderID() string { return s.orderID }

// Key returns a stable map key for the scope.
func (s Scope) Key() string {
	if s.IsGuest() {
		return "guest"
	}
	return "order:" + s.orderID
}

// Topic maps the scope onto a broker topic under the given prefix.
func (s Scope) Topic(prefix string) string {
	if s.IsGuest() {
		return prefix + "/all"
	}
	return prefix + "/" + s.orderID
}

func (s Scope) String() string { return s.Key() }
