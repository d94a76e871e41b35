package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"guesttrack/config"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 5 * time.Second

// RedisStore persists the tracked-order set as one JSON blob under a
// single well-known key, replaced wholesale on every write.
type RedisStore struct {
	mu     sync.Mutex
	client *redis.Client
	key    string
	refs   []TrackedRef
}

// OpenRedis connects to redis and loads the tracked set. Entries with a
// missing id or timestamp are dropped silently during load.
func OpenRedis(cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := &RedisStore{client: client, key: cfg.Key}
	if err := s.load(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) load(ctx context.Context) error {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tracked orders: %w", err)
	}

	var stored []TrackedRef
	if err := json.Unmarshal(data, &stored); err != nil {
		// Corrupt blob: start fresh rather than blocking new tracking.
		return nil
	}
	var refs []TrackedRef
	for _, r := range stored {
		if r.OrderID == "" || r.FirstTrackedAt.IsZero() {
			continue
		}
		refs = append(refs, r)
	}
	sortRefs(refs)
	s.refs = refs
	return nil
}

// persist replaces the blob under the well-known key. Caller holds s.mu.
func (s *RedisStore) persist() error {
	data, err := json.Marshal(s.refs)
	if err != nil {
		return fmt.Errorf("marshal tracked orders: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.client.Set(ctx, s.key, data, 0).Err()
}

// Add inserts a ref if not present. Idempotent.
func (s *RedisStore) Add(orderID string) (bool, error) {
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
func (s *RedisStore) List() []TrackedRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackedRef, len(s.refs))
	copy(out, s.refs)
	return out
}

// EvictExpired removes refs strictly older than ttl.
func (s *RedisStore) EvictExpired(now time.Time, ttl time.Duration) ([]string, error) {
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
func (s *RedisStore) EvictTerminal(orderID string) error {
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
func (s *RedisStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = nil
	return s.persist()
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
