package cache

import (
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Storage.GetItem when the key is absent.
var ErrNotFound = errors.New("cache: item not found")

// Storage is the durable string key/value tier of a Store. Implementations
// must be safe for concurrent use.
type Storage interface {
	// GetItem returns the raw value for key, or ErrNotFound.
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key string, value string) error
	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys []string) error
	// GetAllKeys enumerates every key in the storage, not only those owned by
	// one Store.
	GetAllKeys(ctx context.Context) ([]string, error)
	Close() error
}

type memoryStorage struct {
	mutex sync.RWMutex
	items map[string]string
}

var _ Storage = (*memoryStorage)(nil)

// NewMemoryStorage returns a Storage that keeps everything in process memory.
// Useful for tests and for running the CLI without a database.
func NewMemoryStorage() Storage {
	return &memoryStorage{items: make(map[string]string)}
}

func (m *memoryStorage) GetItem(_ context.Context, key string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	val, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *memoryStorage) SetItem(_ context.Context, key string, value string) error {
	m.mutex.Lock()
	m.items[key] = value
	m.mutex.Unlock()
	return nil
}

func (m *memoryStorage) RemoveItem(_ context.Context, key string) error {
	m.mutex.Lock()
	delete(m.items, key)
	m.mutex.Unlock()
	return nil
}

func (m *memoryStorage) MultiRemove(_ context.Context, keys []string) error {
	m.mutex.Lock()
	for _, key := range keys {
		delete(m.items, key)
	}
	m.mutex.Unlock()
	return nil
}

func (m *memoryStorage) GetAllKeys(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	slices.Sort(keys)
	return keys, nil
}

func (m *memoryStorage) Close() error {
	return nil
}
