package localstore

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

// MemoryBackend keeps readings in process memory only. It is the fallback
// when no durable storage can be opened; contents vanish with the process.
type MemoryBackend struct {
	// mu serialises read-modify-write sequences across the cache.
	mu    sync.Mutex
	cache *cache.Cache
	limit int
}

// NewMemoryBackend creates an empty in-memory backend trimming to limit.
func NewMemoryBackend(limit int) *MemoryBackend {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryBackend{
		cache: cache.New(cache.NoExpiration, 0),
		limit: limit,
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Init(_ context.Context) error { return nil }

func (m *MemoryBackend) Load(_ context.Context, limit int) ([]metric.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metric.Normalize(m.snapshot(), limit), nil
}

func (m *MemoryBackend) ReplaceAll(_ context.Context, readings []metric.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Flush()
	for _, r := range metric.Normalize(readings, m.limit) {
		m.cache.Set(r.ID.String(), r, cache.NoExpiration)
	}
	return nil
}

func (m *MemoryBackend) UpsertOne(_ context.Context, r metric.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Set(r.ID.String(), r, cache.NoExpiration)
	if m.cache.ItemCount() <= m.limit {
		return nil
	}
	keep := make(map[metric.ID]struct{}, m.limit)
	for _, kept := range metric.Normalize(m.snapshot(), m.limit) {
		keep[kept.ID] = struct{}{}
	}
	for key := range m.cache.Items() {
		if _, ok := keep[metric.ID(key)]; !ok {
			m.cache.Delete(key)
		}
	}
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.cache.Flush()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// snapshot copies every cached reading; callers hold mu.
func (m *MemoryBackend) snapshot() []metric.Reading {
	items := m.cache.Items()
	out := make([]metric.Reading, 0, len(items))
	for _, item := range items {
		if r, ok := item.Object.(metric.Reading); ok {
			out = append(out, r)
		}
	}
	return out
}
