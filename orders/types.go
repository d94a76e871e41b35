package orders

// Status is an order's lifecycle status as reported by the order service.
type Status string

// Order statuses. The first six form an ordered chain; cancelled is an
// orthogonal terminal state reachable from any non-terminal status.
const (
	StatusPending        Status = "pending"
	StatusPaid           Status = "paid"
	StatusPreparing      Status = "preparing"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusDelivering     Status = "delivering"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// statusRank positions each chain status for monotonicity checks.
// Cancelled is deliberately absent: it sits outside the chain.
var statusRank = map[Status]int{
	StatusPending:        0,
	StatusPaid:           1,
	StatusPreparing:      2,
	StatusReadyForPickup: 3,
	StatusDelivering:     4,
	StatusCompleted:      5,
}

// Rank returns the status's position on the ordered chain, or -1 for
// cancelled and unknown statuses.
func Rank(s Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsValid reports whether s is a known status.
func IsValid(s Status) bool {
	return s == StatusCancelled || Rank(s) >= 0
}

// IsTerminal returns true if no further transitions are expected.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsForward reports whether from → to moves forward along the chain or
// jumps to cancelled from a non-terminal status. Anything else is an
// anomaly: the server is trusted as source of truth, so callers apply
// such transitions anyway but log them.
func IsForward(from, to Status) bool {
	if to == StatusCancelled {
		return !IsTerminal(from)
	}
	fr, tr := Rank(from), Rank(to)
	if fr < 0 || tr < 0 {
		return false
	}
	return tr > fr
}
