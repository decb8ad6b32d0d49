package chat

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Manager keeps one Reducer per active user. The least recently used
// reducers are evicted once the cache is full. An evicted reducer with a turn
// in flight keeps running until the turn settles and is persisted; a request
// for that user in the meantime gets the same reducer back.
type Manager struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	cache    *lru.Cache
	draining map[string]*Reducer
	// hardClose is set while Forget or Close drop entries; those close
	// reducers immediately, busy or not.
	hardClose bool
}

func NewManager(size int, deps Deps, opts Options, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{deps: deps, opts: opts, logger: logger, draining: make(map[string]*Reducer)}
	cache, err := lru.NewWithEvict(size, m.evicted)
	if err != nil {
		return nil, fmt.Errorf("create reducer cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// evicted runs synchronously inside cache calls, which all hold m.mu.
func (m *Manager) evicted(key, value interface{}) {
	userID := key.(string)
	r := value.(*Reducer)
	if m.hardClose {
		r.Close()
		return
	}
	done := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.draining[userID] == r {
			delete(m.draining, userID)
		}
	}
	if r.closeWhenIdle(done) {
		m.logger.Debug("Evicted chat reducer with a turn in flight", zap.String("user_id", userID))
		m.draining[userID] = r
		return
	}
	m.logger.Debug("Evicting chat reducer", zap.String("user_id", userID))
	r.Close()
}

// Get returns the user's reducer, loading its sessions on first use.
func (m *Manager) Get(ctx context.Context, userID string) (*Reducer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(userID); ok {
		return v.(*Reducer), nil
	}
	if r, ok := m.draining[userID]; ok {
		delete(m.draining, userID)
		if r.keepOpen() {
			m.cache.Add(userID, r)
			return r, nil
		}
		// The turn already settled and was saved; reload below.
	}

	r := NewReducer(userID, m.deps, m.opts, m.logger)
	if err := r.Load(ctx); err != nil {
		r.Close()
		return nil, err
	}
	m.cache.Add(userID, r)
	return r, nil
}

// Forget closes and drops the user's reducer, if loaded.
func (m *Manager) Forget(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hardClose = true
	m.cache.Remove(userID)
	m.hardClose = false
	if r, ok := m.draining[userID]; ok {
		delete(m.draining, userID)
		r.Close()
	}
}

// Len reports how many reducers are loaded, draining ones excluded.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Close closes every loaded reducer, including draining ones.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hardClose = true
	m.cache.Purge()
	m.hardClose = false
	for userID, r := range m.draining {
		delete(m.draining, userID)
		r.Close()
	}
}
