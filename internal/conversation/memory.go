package conversation

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	shardCount      = 32
	defaultTTL      = 24 * time.Hour
	cleanupInterval = 10 * time.Minute
)

var _ Store = (*MemoryStore)(nil)

type session struct {
	turns []Turn
}

// MemoryStore keeps sessions in process memory. A session expires after ttl
// without appends; the go-cache janitor reclaims it.
type MemoryStore struct {
	cache  *cache.Cache
	ttl    time.Duration
	shards [shardCount]sync.Mutex
}

// NewMemoryStore creates a store whose sessions expire after ttl of
// inactivity. A non-positive ttl uses 24h.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	interval := cleanupInterval
	if ttl < interval {
		interval = ttl
	}
	return &MemoryStore{
		cache: cache.New(ttl, interval),
		ttl:   ttl,
	}
}

func (m *MemoryStore) lock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &m.shards[h.Sum32()%shardCount]
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, turn Turn) error {
	mu := m.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s, ok := m.get(sessionID)
	if !ok {
		s = &session{}
	}
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	s.turns = append(s.turns, turn)
	// Set again to slide the expiry.
	m.cache.Set(sessionID, s, m.ttl)
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	mu := m.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	s, ok := m.get(sessionID)
	if !ok {
		return []Turn{}, nil
	}
	return tail(s.turns, limit), nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}

func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}

func (m *MemoryStore) get(sessionID string) (*session, bool) {
	v, ok := m.cache.Get(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*session), true
}
