package channel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"guesttrack/orders"
)

// fakeTransport simulates a broker: subscribes succeed or fail on
// command, and messages can be injected per topic.
type fakeTransport struct {
	mu       sync.Mutex
	failNext int // number of Subscribe calls to fail
	handlers map[string]func([]byte)
	subCalls int
	lost     func(error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func([]byte))}
}

func (t *fakeTransport) Subscribe(topic string, handler func(payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subCalls++
	if t.failNext > 0 {
		t.failNext--
		return errors.New("broker unreachable")
	}
	t.handlers[topic] = handler
	return nil
}

func (t *fakeTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, topic)
	return nil
}

func (t *fakeTransport) OnConnectionLost(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lost = fn
}

func (t *fakeTransport) Close() {}

func (t *fakeTransport) inject(topic string, payload []byte) {
	t.mu.Lock()
	h := t.handlers[topic]
	t.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (t *fakeTransport) dropConnection() {
	t.mu.Lock()
	fn := t.lost
	t.mu.Unlock()
	if fn != nil {
		fn(errors.New("connection reset"))
	}
}

func (t *fakeTransport) subscribeCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subCalls
}

func testManager(t *testing.T, tr *fakeTransport) *Manager {
	t.Helper()
	m := NewManager(tr, ManagerConfig{
		TopicPrefix: "guest/orders",
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
		MaxFailures: 3,
	})
	t.Cleanup(m.Close)
	return m
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectReachesConnected(t *testing.T) {
	tr := newFakeTransport()
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never reached connected")
}

func TestConnectIdempotent(t *testing.T) {
	tr := newFakeTransport()
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never reached connected")

	m.Connect(scope)
	m.Connect(scope)
	time.Sleep(20 * time.Millisecond)
	if got := tr.subscribeCalls(); got != 1 {
		t.Errorf("subscribe calls = %d, want 1", got)
	}
}

func TestConnectDuringBackoffKeepsSingleLoop(t *testing.T) {
	tr := newFakeTransport()
	tr.failNext = 1
	m := NewManager(tr, ManagerConfig{
		TopicPrefix: "guest/orders",
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  100 * time.Millisecond,
		MaxFailures: 5,
	})
	t.Cleanup(m.Close)

	scope := OrderScope("GUEST-001")
	m.Connect(scope)

	// The failed subscribe puts the loop into its backoff wait, where the
	// scope reads as disconnected while the loop is still alive.
	waitFor(t, func() bool {
		return tr.subscribeCalls() == 1 && m.State(scope) == StateDisconnected
	}, "scope never entered backoff")

	m.Connect(scope)
	m.Connect(scope)

	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never recovered after backoff")

	// An orphaned second loop would wake from its own backoff and
	// subscribe again in this window.
	time.Sleep(150 * time.Millisecond)
	if got := tr.subscribeCalls(); got != 2 {
		t.Errorf("subscribe calls = %d, want 2 (1 failed + 1 live)", got)
	}
}

func TestReconnectAfterTransientFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.failNext = 2
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never recovered after transient failures")
	if got := tr.subscribeCalls(); got != 3 {
		t.Errorf("subscribe calls = %d, want 3", got)
	}
}

func TestFailureBudgetExhaustedIsPermanent(t *testing.T) {
	tr := newFakeTransport()
	tr.failNext = 100
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateFailed },
		"scope never reached failed")

	calls := tr.subscribeCalls()
	if calls != 3 {
		t.Errorf("subscribe calls = %d, want 3 (failure budget)", calls)
	}

	// A failed scope stays failed; Connect must not revive it.
	m.Connect(scope)
	time.Sleep(20 * time.Millisecond)
	if got := m.State(scope); got != StateFailed {
		t.Errorf("state after reconnect attempt = %s, want failed", got)
	}
	if got := tr.subscribeCalls(); got != calls {
		t.Errorf("subscribe calls grew to %d after permanent failure", got)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	tr := newFakeTransport()
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never reached connected")

	m.Disconnect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateDisconnected },
		"scope never disconnected")

	calls := tr.subscribeCalls()
	tr.dropConnection()
	time.Sleep(20 * time.Millisecond)
	if got := tr.subscribeCalls(); got != calls {
		t.Error("disconnected scope resubscribed after connection loss")
	}
}

func TestConnectionDropTriggersResubscribe(t *testing.T) {
	tr := newFakeTransport()
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never reached connected")

	tr.dropConnection()
	waitFor(t, func() bool { return tr.subscribeCalls() >= 2 },
		"scope never resubscribed after drop")
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never recovered after drop")
}

func TestDispatchStatusUpdate(t *testing.T) {
	tr := newFakeTransport()
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	var mu sync.Mutex
	var got []StatusUpdate
	m.OnStatusChange(scope, func(upd StatusUpdate) {
		mu.Lock()
		got = append(got, upd)
		mu.Unlock()
	})
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never reached connected")

	topic := scope.Topic("guest/orders")
	tr.inject(topic, []byte(`{"type":"status_update","payload":{"order_id":"GUEST-001","old_status":"pending","new_status":"paid"}}`))
	// Non-status envelope and garbage are ignored.
	tr.inject(topic, []byte(`{"type":"heartbeat","payload":{}}`))
	tr.inject(topic, []byte(`not json`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("updates = %d, want 1", len(got))
	}
	if got[0].OrderID != "GUEST-001" || got[0].NewStatus != orders.StatusPaid {
		t.Errorf("update = %+v, want GUEST-001 -> paid", got[0])
	}
}

func TestRemoveStatusHandlers(t *testing.T) {
	tr := newFakeTransport()
	m := testManager(t, tr)

	scope := OrderScope("GUEST-001")
	var mu sync.Mutex
	calls := 0
	m.OnStatusChange(scope, func(StatusUpdate) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	m.Connect(scope)
	waitFor(t, func() bool { return m.State(scope) == StateConnected },
		"scope never reached connected")

	m.RemoveStatusHandlers(scope)
	tr.inject(scope.Topic("guest/orders"), []byte(`{"type":"status_update","payload":{"order_id":"GUEST-001","new_status":"paid"}}`))

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("handler called %d times after removal", calls)
	}
}

func TestGuestScopeTopic(t *testing.T) {
	if got := GuestScope().Topic("guest/orders"); got != "guest/orders/all" {
		t.Errorf("guest topic = %s, want guest/orders/all", got)
	}
	if got := OrderScope("GUEST-7").Topic("guest/orders"); got != "guest/orders/GUEST-7" {
		t.Errorf("order topic = %s, want guest/orders/GUEST-7", got)
	}
}
