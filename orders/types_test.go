package orders

import "testing"

func TestStatusChainOrder(t *testing.T) {
	chain := []Status{
		StatusPending, StatusPaid, StatusPreparing,
		StatusReadyForPickup, StatusDelivering, StatusCompleted,
	}
	for i := 1; i < len(chain); i++ {
		if Rank(chain[i]) <= Rank(chain[i-1]) {
			t.Errorf("Rank(%s) = %d, want > Rank(%s) = %d",
				chain[i], Rank(chain[i]), chain[i-1], Rank(chain[i-1]))
		}
	}
	if Rank(StatusCancelled) != -1 {
		t.Errorf("Rank(cancelled) = %d, want -1", Rank(StatusCancelled))
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StatusCompleted) {
		t.Error("completed should be terminal")
	}
	if !IsTerminal(StatusCancelled) {
		t.Error("cancelled should be terminal")
	}
	if IsTerminal(StatusDelivering) {
		t.Error("delivering should not be terminal")
	}
}

func TestIsForward(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPaid, StatusDelivering, true}, // skipping ahead is still monotonic
		{StatusDelivering, StatusPreparing, false},
		{StatusPending, StatusCancelled, true},
		{StatusDelivering, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPaid, false},
		{StatusPaid, StatusPaid, false},
	}
	for _, c := range cases {
		if got := IsForward(c.from, c.to); got != c.want {
			t.Errorf("IsForward(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusCancelled, StatusCompleted} {
		if !IsValid(s) {
			t.Errorf("IsValid(%s) = false, want true", s)
		}
	}
	if IsValid(Status("shipped")) {
		t.Error("IsValid(shipped) = true, want false")
	}
}

func TestSnapshotWithStatus(t *testing.T) {
	snap := &Snapshot{OrderID: "GUEST-1", Status: StatusPending, TotalAmount: 42}
	next := snap.WithStatus(StatusPaid)
	if next.Status != StatusPaid {
		t.Errorf("status = %s, want paid", next.Status)
	}
	if next.OrderID != "GUEST-1" || next.TotalAmount != 42 {
		t.Error("WithStatus should carry all other fields")
	}
	if snap.Status != StatusPending {
		t.Error("WithStatus must not mutate the original snapshot")
	}
}
