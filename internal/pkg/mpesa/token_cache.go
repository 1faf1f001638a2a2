package mpesa

import (
	"sync"
	"time"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/cache"
)

// RedisTokenCache backs the token cache with the shared Redis instance so
// every process reuses the same gateway token per tenant.
type RedisTokenCache struct{}

func (RedisTokenCache) Get(key string) (string, error) {
	return cache.Get(key)
}

func (RedisTokenCache) Set(key string, value string, ttl time.Duration) error {
	return cache.Set(key, value, ttl)
}

func (RedisTokenCache) Delete(key string) error {
	return cache.Delete(key)
}

// MemoryTokenCache is a process-local fallback used in tests and when no
// Redis is configured.
type MemoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]memoryToken
}

type memoryToken struct {
	value     string
	expiresAt time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{entries: make(map[string]memoryToken)}
}

func (m *MemoryTokenCache) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return "", nil
	}
	return entry.value, nil
}

func (m *MemoryTokenCache) Set(key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryToken{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryTokenCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
