// Package kvstore provides a small persistent key/value layer backed by
// SQLite. The history store serializes its state through it so callers
// can swap in an in-memory implementation for tests.
package kvstore

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// KV is the storage capability the history layer depends on. Values are
// opaque strings; the caller owns the encoding.
type KV interface {
	Get(key string) (string, bool, error)
	Update(key, value string) error
	Delete(key string) error
}

// MemoryKV keeps values in a map. Used by tests and as a fallback when
// no database path is configured.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	if m == nil {
		return "", false, errors.New("kv store is not initialized")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return "", false, errors.New("key is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[k]
	return v, ok, nil
}

func (m *MemoryKV) Update(key, value string) error {
	if m == nil {
		return errors.New("kv store is not initialized")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return errors.New("key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[k] = value
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	if m == nil {
		return errors.New("kv store is not initialized")
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return errors.New("key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, k)
	return nil
}

func nowUnix() int64 {
	return time.Now().UTC().Unix()
}
