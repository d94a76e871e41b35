package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the tracked-order set in a local SQLite file.
// The whole set is rewritten inside one transaction on every mutation.
type SQLiteStore struct {
	mu   sync.Mutex
	db   *sql.DB
	refs []TrackedRef
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tracked_orders (
	order_id         TEXT PRIMARY KEY,
	first_tracked_at INTEGER NOT NULL
);
`

// OpenSQLite opens (or creates) the store database and loads the
// tracked set. Malformed rows are dropped silently: stale corrupt state
// must never block tracking of new orders.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) load() error {
	rows, err := s.db.Query(`SELECT order_id, first_tracked_at FROM tracked_orders`)
	if err != nil {
		return fmt.Errorf("load tracked orders: %w", err)
	}
	defer rows.Close()

	var refs []TrackedRef
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			continue
		}
		if id == "" || ms <= 0 {
			continue
		}
		refs = append(refs, TrackedRef{OrderID: id, FirstTrackedAt: time.UnixMilli(ms).UTC()})
	}
	sortRefs(refs)
	s.refs = refs
	return rows.Err()
}

// persist rewrites the full set. Caller holds s.mu.
func (s *SQLiteStore) persist() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tracked_orders`); err != nil {
		return fmt.Errorf("clear tracked orders: %w", err)
	}
	for _, r := range s.refs {
		if _, err := tx.Exec(`INSERT INTO tracked_orders (order_id, first_tracked_at) VALUES (?, ?)`,
			r.OrderID, r.FirstTrackedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert ref %s: %w", r.OrderID, err)
		}
	}
	return tx.Commit()
}

// Add inserts a ref if not present. Idempotent.
func (s *SQLiteStore) Add(orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.refs {
		if r.OrderID == orderID {
			return false, nil
		}
	}
	s.refs = append(s.refs, TrackedRef{OrderID: orderID, FirstTrackedAt: time.Now().UTC()})
	sortRefs(s.refs)
	return true, s.persist()
}

// List returns all refs ordered by FirstTrackedAt ascending.
func (s *SQLiteStore) List() []TrackedRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackedRef, len(s.refs))
	copy(out, s.refs)
	return out
}

// EvictExpired removes refs strictly older than ttl.
func (s *SQLiteStore) EvictExpired(now time.Time, ttl time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []TrackedRef
	var removed []string
	for _, r := range s.refs {
		if now.Sub(r.FirstTrackedAt) > ttl {
			removed = append(removed, r.OrderID)
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	s.refs = kept
	return removed, s.persist()
}

// EvictTerminal removes one ref immediately.
func (s *SQLiteStore) EvictTerminal(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.refs {
		if r.OrderID == orderID {
			s.refs = append(s.refs[:i], s.refs[i+1:]...)
			return s.persist()
		}
	}
	return nil
}

// Clear removes every ref.
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = nil
	return s.persist()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
