package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAddIdempotent(t *testing.T) {
	s, _ := testStore(t)

	added, err := s.Add("GUEST-001")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Error("first add = false, want true")
	}

	first := s.List()[0].FirstTrackedAt

	added, err = s.Add("GUEST-001")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Error("second add = true, want false")
	}

	refs := s.List()
	if len(refs) != 1 {
		t.Fatalf("refs = %d, want 1", len(refs))
	}
	if !refs[0].FirstTrackedAt.Equal(first) {
		t.Error("FirstTrackedAt changed on re-add")
	}
}

func TestListOrderedByFirstTracked(t *testing.T) {
	s, _ := testStore(t)

	// Insert out of order with controlled timestamps.
	s.refs = []TrackedRef{
		{OrderID: "c", FirstTrackedAt: time.Unix(300, 0)},
		{OrderID: "a", FirstTrackedAt: time.Unix(100, 0)},
		{OrderID: "b", FirstTrackedAt: time.Unix(200, 0)},
	}
	sortRefs(s.refs)
	if err := s.persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got := s.List()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].OrderID != id {
			t.Errorf("refs[%d] = %s, want %s", i, got[i].OrderID, id)
		}
	}
}

func TestEvictExpiredStrictBoundary(t *testing.T) {
	s, _ := testStore(t)

	now := time.Unix(1000000, 0)
	ttl := 30 * 24 * time.Hour
	s.refs = []TrackedRef{
		{OrderID: "expired", FirstTrackedAt: now.Add(-ttl - time.Millisecond)},
		{OrderID: "boundary", FirstTrackedAt: now.Add(-ttl)},
		{OrderID: "fresh", FirstTrackedAt: now.Add(-time.Hour)},
	}
	if err := s.persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	removed, err := s.EvictExpired(now, ttl)
	if err != nil {
		t.Fatalf("evict expired: %v", err)
	}
	if len(removed) != 1 || removed[0] != "expired" {
		t.Fatalf("removed = %v, want [expired]", removed)
	}

	refs := s.List()
	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2 (boundary ref must be retained)", len(refs))
	}
}

func TestEvictTerminal(t *testing.T) {
	s, _ := testStore(t)
	s.Add("GUEST-001")
	s.Add("GUEST-002")

	if err := s.EvictTerminal("GUEST-001"); err != nil {
		t.Fatalf("evict terminal: %v", err)
	}
	refs := s.List()
	if len(refs) != 1 || refs[0].OrderID != "GUEST-002" {
		t.Errorf("refs = %v, want only GUEST-002", refs)
	}

	// Evicting an absent id is a no-op.
	if err := s.EvictTerminal("GUEST-404"); err != nil {
		t.Fatalf("evict absent: %v", err)
	}
}

func TestPersistAcrossReopen(t *testing.T) {
	s, path := testStore(t)
	s.Add("GUEST-001")
	s.Add("GUEST-002")
	s.EvictTerminal("GUEST-001")
	s.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	refs := s2.List()
	if len(refs) != 1 || refs[0].OrderID != "GUEST-002" {
		t.Errorf("refs after reopen = %v, want only GUEST-002", refs)
	}
}

func TestCorruptEntriesDroppedOnLoad(t *testing.T) {
	s, path := testStore(t)
	s.Add("GUEST-OK")
	s.Close()

	// Plant malformed rows directly: an empty id and a missing timestamp.
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO tracked_orders (order_id, first_tracked_at) VALUES ('', 123)`); err != nil {
		t.Fatalf("insert empty id: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO tracked_orders (order_id, first_tracked_at) VALUES ('GUEST-BAD', 0)`); err != nil {
		t.Fatalf("insert zero timestamp: %v", err)
	}
	db.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen with corrupt rows: %v", err)
	}
	defer s2.Close()

	refs := s2.List()
	if len(refs) != 1 || refs[0].OrderID != "GUEST-OK" {
		t.Errorf("refs = %v, want only GUEST-OK", refs)
	}
}

func TestClear(t *testing.T) {
	s, _ := testStore(t)
	s.Add("GUEST-001")
	s.Add("GUEST-002")

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := len(s.List()); got != 0 {
		t.Errorf("refs after clear = %d, want 0", got)
	}
}
