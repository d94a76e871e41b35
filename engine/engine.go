// Package engine is the public surface of the guest order tracking
// synchronization engine. It wires the tracking store, the order API
// fetcher, the push channel and the change notifier together, and owns
// their combined lifecycle: which orders are tracked, which update
// mechanism is active per scope, and the notification event stream.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"guesttrack/channel"
	"guesttrack/config"
	"guesttrack/notify"
	"guesttrack/orderapi"
	"guesttrack/orders"
	"guesttrack/store"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Fetcher is the pull-based order accessor (orderapi.Client).
type Fetcher interface {
	FetchOrder(ctx context.Context, orderID string) (*orders.Snapshot, error)
	FetchAll(ctx context.Context, orderIDs []string) (map[string]*orders.Snapshot, map[string]error)
}

// Channel is the push subscription surface (channel.Manager).
type Channel interface {
	Connect(scope channel.Scope)
	Disconnect(scope channel.Scope)
	OnStatusChange(scope channel.Scope, handler channel.StatusHandler)
	RemoveStatusHandlers(scope channel.Scope)
	OnStateChange(handler channel.StateHandler)
	State(scope channel.Scope) channel.State
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	Tracking config.TrackingConfig
	Store    store.TrackingStore
	Fetcher  Fetcher
	Channel  Channel
	LogFunc  LogFunc
}

// Engine keeps locally tracked orders' statuses consistent with server
// state. Exactly one update mechanism is active per scope at any time:
// the push channel when connected, the polling fallback otherwise.
type Engine struct {
	cfg     config.TrackingConfig
	store   store.TrackingStore
	fetcher Fetcher
	ch      Channel

	notifier *notify.Notifier
	logFn    LogFunc

	// Events is the subscribable notification stream, ordered by
	// sequence number and replay-free.
	Events *EventBus

	mu        sync.Mutex
	tracked   map[string]struct{}
	snapshots map[string]*orders.Snapshot
	pollers   map[string]*poller
	stopped   bool

	// emitMu is the single serialization point for Apply+Emit, so
	// events reach the bus in sequence-number order.
	emitMu sync.Mutex
}

// New creates an Engine. Call Start to load the tracked set and begin
// synchronization. The store is owned by the caller and stays open
// after Stop.
func New(c Config) *Engine {
	if c.Tracking.TTL <= 0 {
		c.Tracking.TTL = 30 * 24 * time.Hour
	}
	if c.Tracking.PollInterval <= 0 {
		c.Tracking.PollInterval = 10 * time.Second
	}
	if c.Tracking.BackoffBase <= 0 {
		c.Tracking.BackoffBase = time.Second
	}
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	return &Engine{
		cfg:       c.Tracking,
		store:     c.Store,
		fetcher:   c.Fetcher,
		ch:        c.Channel,
		notifier:  notify.New(),
		logFn:     logFn,
		Events:    NewEventBus(),
		tracked:   make(map[string]struct{}),
		snapshots: make(map[string]*orders.Snapshot),
		pollers:   make(map[string]*poller),
	}
}

// Start evicts expired refs, fetches the remaining tracked orders once
// (so the first Snapshot call is never empty-then-populated), then
// connects the push channel and begins arbitration.
func (e *Engine) Start() error {
	expired, err := e.store.EvictExpired(time.Now(), e.cfg.TTL)
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		e.logFn("evicted %d expired tracked orders: %v", len(expired), expired)
	}

	refs := e.store.List()
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.OrderID)
	}

	snaps, failed := e.fetcher.FetchAll(context.Background(), ids)

	e.mu.Lock()
	for id, snap := range snaps {
		if orders.IsTerminal(snap.Status) {
			continue
		}
		e.tracked[id] = struct{}{}
		e.snapshots[id] = snap
		e.notifier.Seed(id, snap.Status)
	}
	e.mu.Unlock()

	for id, snap := range snaps {
		if orders.IsTerminal(snap.Status) {
			if err := e.store.EvictTerminal(id); err != nil {
				e.logFn("evict terminal %s: %v", id, err)
			}
		}
	}

	for id, ferr := range failed {
		if errors.Is(ferr, orderapi.ErrNotFound) {
			// A vanished order is treated like a terminal one.
			if err := e.store.EvictTerminal(id); err != nil {
				e.logFn("evict vanished %s: %v", id, err)
			}
			continue
		}
		// Transient failure: keep tracking, polling will fill it in.
		e.logFn("initial fetch %s: %v", id, ferr)
		e.mu.Lock()
		e.tracked[id] = struct{}{}
		e.mu.Unlock()
	}

	e.ch.OnStateChange(e.handleChannelState)

	e.mu.Lock()
	tracked := make([]string, 0, len(e.tracked))
	for id := range e.tracked {
		tracked = append(tracked, id)
	}
	e.mu.Unlock()
	for _, id := range tracked {
		e.watch(id)
	}

	e.logFn("tracking engine started: %d orders", len(tracked))
	return nil
}

// Stop tears down polling and push subscriptions. No events are emitted.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	pollers := e.pollers
	e.pollers = make(map[string]*poller)
	tracked := make([]string, 0, len(e.tracked))
	for id := range e.tracked {
		tracked = append(tracked, id)
	}
	e.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
	for _, id := range tracked {
		e.ch.Disconnect(channel.OrderScope(id))
	}
	e.logFn("tracking engine stopped")
}

// Track begins tracking an order: stores the ref, fetches the initial
// snapshot, connects the push channel and starts arbitration.
// Idempotent: tracking an already-tracked order performs no second
// fetch. Returns orderapi.ErrNotFound if the order does not exist.
func (e *Engine) Track(orderID string) error {
	added, err := e.store.Add(orderID)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	e.mu.Lock()
	e.tracked[orderID] = struct{}{}
	e.mu.Unlock()

	snap, err := e.fetcher.FetchOrder(context.Background(), orderID)
	switch {
	case err == nil:
		if orders.IsTerminal(snap.Status) {
			e.remove(orderID)
			return nil
		}
		e.mu.Lock()
		e.snapshots[orderID] = snap
		e.mu.Unlock()
		e.notifier.Seed(orderID, snap.Status)
	case errors.Is(err, orderapi.ErrNotFound):
		e.remove(orderID)
		return err
	default:
		// Transient: keep the ref, the polling fallback retries.
		e.logFn("initial fetch %s: %v", orderID, err)
	}

	e.watch(orderID)
	return nil
}

// Untrack stops tracking an order: tears down its channel and polling,
// removes it from the store and discards any in-flight poll result.
// No notification is emitted.
func (e *Engine) Untrack(orderID string) {
	e.remove(orderID)
}

// Snapshot returns the current best-known state for all tracked orders,
// ordered by when tracking began. Orders whose initial fetch has not
// succeeded yet are omitted; a stale snapshot is retained while both
// update channels fail.
func (e *Engine) Snapshot() []orders.Snapshot {
	refs := e.store.List()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]orders.Snapshot, 0, len(refs))
	for _, r := range refs {
		if snap, ok := e.snapshots[r.OrderID]; ok {
			out = append(out, *snap)
		}
	}
	return out
}

// Tracked returns the tracked order ids in tracking order.
func (e *Engine) Tracked() []string {
	refs := e.store.List()
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.OrderID)
	}
	return ids
}

// watch registers the push handler for an order and connects its scope.
func (e *Engine) watch(orderID string) {
	scope := channel.OrderScope(orderID)
	e.ch.OnStatusChange(scope, e.handlePush)
	e.ch.Connect(scope)
}

// handlePush feeds a raw push message through the same apply path the
// poller uses, which is what makes channel handover race-free.
func (e *Engine) handlePush(upd channel.StatusUpdate) {
	e.mu.Lock()
	_, tracked := e.tracked[upd.OrderID]
	snap := e.snapshots[upd.OrderID]
	e.mu.Unlock()
	if !tracked {
		return
	}

	if snap == nil {
		// No local snapshot yet (initial fetch failed): pull the full
		// order so the snapshot is replaced wholesale, not patched.
		fetched, err := e.fetcher.FetchOrder(context.Background(), upd.OrderID)
		if err != nil {
			if errors.Is(err, orderapi.ErrNotFound) {
				e.remove(upd.OrderID)
				return
			}
			e.logFn("fetch after push %s: %v", upd.OrderID, err)
			fetched = &orders.Snapshot{OrderID: upd.OrderID, Status: upd.NewStatus}
		}
		e.apply(upd.OrderID, fetched)
		return
	}

	e.apply(upd.OrderID, snap.WithStatus(upd.NewStatus))
}

// apply is the single entry point for both channels' observations.
func (e *Engine) apply(orderID string, snap *orders.Snapshot) {
	e.mu.Lock()
	if _, ok := e.tracked[orderID]; !ok {
		// Untracked while the result was in flight: discard.
		e.mu.Unlock()
		return
	}
	e.snapshots[orderID] = snap
	e.mu.Unlock()

	e.emitMu.Lock()
	ev := e.notifier.Apply(orderID, snap)
	if ev != nil {
		e.Events.Emit(*ev)
	}
	e.emitMu.Unlock()

	if orders.IsTerminal(snap.Status) {
		// Terminal orders stop consuming any live-update resources.
		e.remove(orderID)
	}
}

// remove drops every trace of an order: tracking ref, snapshot,
// notifier state, poller and push subscription.
func (e *Engine) remove(orderID string) {
	e.mu.Lock()
	delete(e.tracked, orderID)
	delete(e.snapshots, orderID)
	e.mu.Unlock()

	e.notifier.Forget(orderID)
	if err := e.store.EvictTerminal(orderID); err != nil {
		e.logFn("evict %s: %v", orderID, err)
	}

	scope := channel.OrderScope(orderID)
	e.stopPolling(scope)
	e.ch.RemoveStatusHandlers(scope)
	e.ch.Disconnect(scope)
}

// handleChannelState is the fallback arbiter: on every observed channel
// state transition, re-evaluate whether polling should run for that
// scope.
func (e *Engine) handleChannelState(scope channel.Scope, state channel.State) {
	switch state {
	case channel.StateConnected:
		e.stopPolling(scope)
	case channel.StateDisconnected, channel.StateFailed:
		e.startPolling(scope)
	case channel.StateConnecting:
		// Give the connect attempt one backoff interval; if it is
		// still pending after that, poll until it resolves.
		time.AfterFunc(e.cfg.BackoffBase, func() {
			if e.ch.State(scope) == channel.StateConnecting {
				e.startPolling(scope)
			}
		})
	}
}

// startPolling ensures the scope's polling loop is running. Polling for
// an untracked scope is never started.
func (e *Engine) startPolling(scope channel.Scope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if _, ok := e.pollers[scope.Key()]; ok {
		return
	}
	if !scope.IsGuest() {
		if _, ok := e.tracked[scope.OrderID()]; !ok {
			return
		}
	}
	p := newPoller(e.cfg.PollInterval, func() { e.pollScope(scope) })
	e.pollers[scope.Key()] = p
	p.Start()
	e.logFn("polling started for %s", scope)
}

// stopPolling stops the scope's polling loop if running. An in-flight
// poll completes and its result is still applied.
func (e *Engine) stopPolling(scope channel.Scope) {
	e.mu.Lock()
	p, ok := e.pollers[scope.Key()]
	if ok {
		delete(e.pollers, scope.Key())
	}
	e.mu.Unlock()
	if ok {
		p.Stop()
		e.logFn("polling stopped for %s", scope)
	}
}

// pollScope fetches the scope's orders once. Failures are logged and
// retried on the next tick; only disconnect/untrack stops the loop.
func (e *Engine) pollScope(scope channel.Scope) {
	var ids []string
	if scope.IsGuest() {
		e.mu.Lock()
		for id := range e.tracked {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	} else {
		ids = []string{scope.OrderID()}
	}

	for _, id := range ids {
		snap, err := e.fetcher.FetchOrder(context.Background(), id)
		if err != nil {
			if errors.Is(err, orderapi.ErrNotFound) {
				// Silent removal, no notification.
				e.remove(id)
				continue
			}
			e.logFn("poll %s: %v", id, err)
			continue
		}
		e.apply(id, snap)
	}
}
