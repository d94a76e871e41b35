// Package channel owns the push subscriptions used for live order
// tracking: one persistent subscription per scope, reconnected with
// capped exponential backoff, with connection state exposed observably.
package channel

import (
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"
)

// ManagerConfig tunes the reconnect behavior.
type ManagerConfig struct {
	TopicPrefix string
	BackoffBase time.Duration // default 1s
	BackoffCap  time.Duration // default 30s
	MaxFailures int           // consecutive failures before permanent failed state, default 5
}

// Manager owns one subscription per scope. A scope whose reconnect
// budget is exhausted stays failed for the rest of the session so the
// polling fallback can take over for good.
type Manager struct {
	transport   Transport
	topicPrefix string
	backoffBase time.Duration
	backoffCap  time.Duration
	maxFailures int

	mu             sync.Mutex
	conns          map[string]*scopeConn
	statusHandlers map[string][]StatusHandler
	stateHandlers  []StateHandler
}

type scopeConn struct {
	scope    Scope
	topic    string
	state    State
	failures int
	stopChan chan struct{}
	dropChan chan struct{}
}

// NewManager creates a push channel manager on the given transport.
func NewManager(transport Transport, cfg ManagerConfig) *Manager {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	m := &Manager{
		transport:      transport,
		topicPrefix:    cfg.TopicPrefix,
		backoffBase:    cfg.BackoffBase,
		backoffCap:     cfg.BackoffCap,
		maxFailures:    cfg.MaxFailures,
		conns:          make(map[string]*scopeConn),
		statusHandlers: make(map[string][]StatusHandler),
	}
	transport.OnConnectionLost(m.handleConnectionLost)
	return m
}

// Connect establishes the subscription for a scope. Idempotent: while
// the scope's connection loop is alive it reports disconnected during a
// backoff wait, so any existing entry means either a live loop that will
// retry on its own or a permanently failed scope. Re-invoking Connect
// never yields a second live subscription.
func (m *Manager) Connect(scope Scope) {
	m.mu.Lock()
	if _, ok := m.conns[scope.Key()]; ok {
		m.mu.Unlock()
		return
	}
	sc := &scopeConn{
		scope:    scope,
		topic:    scope.Topic(m.topicPrefix),
		state:    StateDisconnected,
		stopChan: make(chan struct{}),
		dropChan: make(chan struct{}, 1),
	}
	m.conns[scope.Key()] = sc
	m.mu.Unlock()

	go m.run(sc)
}

// Disconnect tears the scope's subscription down and suppresses any
// further auto-reconnect for it.
func (m *Manager) Disconnect(scope Scope) {
	m.mu.Lock()
	sc, ok := m.conns[scope.Key()]
	if ok {
		delete(m.conns, scope.Key())
	}
	m.mu.Unlock()
	if ok {
		close(sc.stopChan)
	}
}

// OnStatusChange registers a handler for raw server-pushed status
// changes on a scope. Registration is independent of connection state.
func (m *Manager) OnStatusChange(scope Scope, handler StatusHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.Key()
	m.statusHandlers[key] = append(m.statusHandlers[key], handler)
}

// RemoveStatusHandlers drops all status handlers for a scope.
func (m *Manager) RemoveStatusHandlers(scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statusHandlers, scope.Key())
}

// OnStateChange registers an observer for connection-state transitions.
func (m *Manager) OnStateChange(handler StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandlers = append(m.stateHandlers, handler)
}

// State returns the scope's current connection state.
func (m *Manager) State(scope Scope) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.conns[scope.Key()]
	if !ok {
		return StateDisconnected
	}
	return sc.state
}

// Close disconnects every scope and shuts the transport down.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*scopeConn)
	m.mu.Unlock()
	for _, sc := range conns {
		close(sc.stopChan)
	}
	m.transport.Close()
}

// run is the per-scope connection loop: subscribe, watch for drops,
// back off between attempts, give up after the failure budget.
func (m *Manager) run(sc *scopeConn) {
	attempt := 0
	for {
		select {
		case <-sc.stopChan:
			m.setState(sc, StateDisconnected)
			return
		default:
		}

		// Drain any stale drop signal from a previous connection.
		select {
		case <-sc.dropChan:
		default:
		}

		m.setState(sc, StateConnecting)
		err := m.transport.Subscribe(sc.topic, func(payload []byte) {
			m.dispatch(sc.scope, payload)
		})
		if err != nil {
			m.mu.Lock()
			sc.failures++
			failures := sc.failures
			m.mu.Unlock()
			log.Printf("push channel %s: subscribe: %v (failure %d/%d)", sc.scope, err, failures, m.maxFailures)

			if failures >= m.maxFailures {
				m.setState(sc, StateFailed)
				return
			}
			m.setState(sc, StateDisconnected)
			attempt++
			if !m.backoff(sc, attempt) {
				m.setState(sc, StateDisconnected)
				return
			}
			continue
		}

		m.mu.Lock()
		sc.failures = 0
		m.mu.Unlock()
		attempt = 0
		log.Printf("push channel %s: connected on %s", sc.scope, sc.topic)
		m.setState(sc, StateConnected)

		select {
		case <-sc.stopChan:
			if err := m.transport.Unsubscribe(sc.topic); err != nil {
				log.Printf("push channel %s: unsubscribe: %v", sc.scope, err)
			}
			m.setState(sc, StateDisconnected)
			return
		case <-sc.dropChan:
			log.Printf("push channel %s: connection dropped", sc.scope)
			m.setState(sc, StateDisconnected)
			attempt++
			if !m.backoff(sc, attempt) {
				return
			}
		}
	}
}

// backoff waits with capped exponential backoff plus ±20% jitter.
// Returns false if the scope was disconnected during the wait.
func (m *Manager) backoff(sc *scopeConn, attempt int) bool {
	base := m.backoffBase << uint(attempt-1)
	if base > m.backoffCap || base <= 0 {
		base = m.backoffCap
	}
	jitter := time.Duration(float64(base) * (0.8 + 0.4*rand.Float64()))

	log.Printf("push channel %s: reconnecting in %v (attempt %d)", sc.scope, jitter.Round(time.Millisecond), attempt)

	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-sc.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

// setState applies a state transition and notifies observers.
func (m *Manager) setState(sc *scopeConn, state State) {
	m.mu.Lock()
	if sc.state == state {
		m.mu.Unlock()
		return
	}
	sc.state = state
	handlers := make([]StateHandler, len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(sc.scope, state)
	}
}

// dispatch decodes a raw push message and fans it out to the scope's
// status handlers.
func (m *Manager) dispatch(scope Scope, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("push channel %s: decode envelope: %v", scope, err)
		return
	}
	if msg.Type != MessageTypeStatusUpdate {
		return
	}

	var upd StatusUpdate
	if err := json.Unmarshal(msg.Payload, &upd); err != nil {
		log.Printf("push channel %s: decode status update: %v", scope, err)
		return
	}
	if upd.OrderID == "" {
		log.Printf("push channel %s: status update without order id", scope)
		return
	}

	m.mu.Lock()
	handlers := make([]StatusHandler, len(m.statusHandlers[scope.Key()]))
	copy(handlers, m.statusHandlers[scope.Key()])
	m.mu.Unlock()

	for _, h := range handlers {
		h(upd)
	}
}

// handleConnectionLost signals every connected scope that the broker
// connection dropped so each loop can reconnect on its own schedule.
func (m *Manager) handleConnectionLost(err error) {
	log.Printf("push transport connection lost: %v", err)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.conns {
		if sc.state == StateConnected {
			select {
			case sc.dropChan <- struct{}{}:
			default:
			}
		}
	}
}
