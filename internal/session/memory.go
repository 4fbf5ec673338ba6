package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// MemoryStore keeps sessions in an in-process TTL cache. Used when no Redis
// address is configured; state does not survive a restart.
type MemoryStore struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewMemory builds an in-process session store with the given idle timeout.
func NewMemory(idleTimeout time.Duration) (*MemoryStore, error) {
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 26, // 64 MiB of session state
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init session cache: %w", err)
	}
	return &MemoryStore{cache: cache, ttl: idleTimeout}, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, ErrNotFound
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	// Sessions are cached as serialized snapshots so every Get hands out a
	// private copy; concurrent turns on one session never share a struct.
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	m.cache.SetWithTTL(s.ID, data, int64(len(data)), m.ttl)
	// Sets are applied asynchronously; wait so a follow-up Get sees it.
	m.cache.Wait()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Del(id)
	return nil
}

func (m *MemoryStore) Close() error {
	m.cache.Close()
	return nil
}

var _ Store = (*MemoryStore)(nil)
