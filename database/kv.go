package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "chatdesk/errors"
)

// KV is the durable key/value document store the typed accessors sit on.
// Get returns apperrors.ErrNotFound for absent keys; Set may return
// apperrors.ErrStorageQuota when the write does not fit.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// MemoryKV is an in-process KV with an optional byte quota, sized the way a
// browser's local storage is: the sum of key and value lengths.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string][]byte
	used     int64
	maxBytes int64
}

// NewMemoryKV creates a store; maxBytes <= 0 disables the quota.
func NewMemoryKV(maxBytes int64) *MemoryKV {
	return &MemoryKV{
		data:     make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used + int64(len(key)+len(value))
	if old, ok := m.data[key]; ok {
		next -= int64(len(key) + len(old))
	}
	if m.maxBytes > 0 && next > m.maxBytes {
		return fmt.Errorf("set %q (%d bytes, quota %d): %w", key, len(value), m.maxBytes, apperrors.ErrStorageQuota)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	m.used = next
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if old, ok := m.data[key]; ok {
			m.used -= int64(len(key) + len(old))
			delete(m.data, key)
		}
	}
	return nil
}

func (m *MemoryKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used reports the bytes currently counted against the quota.
func (m *MemoryKV) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *MemoryKV) Close() error { return nil }
