// Package kv defines the minimal key/value storage interface the root
// uses for its two persisted values: the discovered-server cache and
// the manual-override triple. Real persistence (flash, NVRAM, a file)
// is provided by the host; this package only defines the contract and
// ships an in-memory implementation for tests and for hosts with no
// durable storage of their own.
package kv

import (
	"errors"
	"sync"
)

// ErrKeyNotFound is returned when a key has never been written.
// Callers use it to distinguish "not configured" from a storage
// failure; missing keys are treated as "not configured".
var ErrKeyNotFound = errors.New("kv: key not found")

// Store is a minimal key/value contract: string keys, opaque byte
// values, no migration. Implementations must be single-writer-safe;
// the bridge never holds a Store lock across a suspension point.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error

	// List returns every key currently stored, in no particular
	// order. Never returns nil.
	List() []string

	// Stats returns a point-in-time snapshot of key count and total
	// value bytes, for monitoring and capacity planning.
	Stats() StoreStats
}

// StoreStats is a point-in-time snapshot of a Store's size.
type StoreStats struct {
	Keys  int
	Bytes int
}

// MemoryStore is an in-memory Store, used for tests and as the
// default when no durable backend is configured.
type MemoryStore struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	return keys
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, v := range m.data {
		totalBytes += len(v)
	}
	return StoreStats{Keys: len(m.data), Bytes: totalBytes}
}

// PutString and GetString are small convenience wrappers since most of
// the values this package stores (server address, hostname, port) are
// naturally strings rather than binary blobs.
func PutString(s Store, key, value string) error {
	return s.Put(key, []byte(value))
}

func GetString(s Store, key string) (string, error) {
	b, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
