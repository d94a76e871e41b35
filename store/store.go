package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"guesttrack/config"
)

// TrackedRef records that a guest is tracking an order and since when.
// FirstTrackedAt never changes after creation.
type TrackedRef struct {
	OrderID        string    `json:"order_id"`
	FirstTrackedAt time.Time `json:"first_tracked_at"`
}

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// TrackingStore is the single owner of the durable tracked-order set.
// Every mutation persists the full set (replace-on-write), so a partial
// write can never linger. Implementations serialize load-modify-persist
// internally.
type TrackingStore interface {
	// Add inserts a ref if not present and reports whether it was new.
	Add(orderID string) (bool, error)
	// List returns all refs ordered by FirstTrackedAt ascending.
	List() []TrackedRef
	// EvictExpired removes refs strictly older than ttl and returns
	// the removed ids. Refs exactly at the boundary are retained.
	EvictExpired(now time.Time, ttl time.Duration) ([]string, error)
	// EvictTerminal removes a single ref whose order reached a
	// terminal status (or vanished server-side).
	EvictTerminal(orderID string) error
	// Clear removes every ref.
	Clear() error
	Close() error
}

// Open creates a tracking store for the configured backend.
func Open(cfg *config.StorageConfig) (TrackingStore, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return OpenSQLite(cfg.SQLitePath)
	case "redis":
		return OpenRedis(&cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// sortRefs orders refs by FirstTrackedAt ascending, order id as tiebreak.
func sortRefs(refs []TrackedRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].FirstTrackedAt.Equal(refs[j].FirstTrackedAt) {
			return refs[i].OrderID < refs[j].OrderID
		}
		return refs[i].FirstTrackedAt.Before(refs[j].FirstTrackedAt)
	})
}
