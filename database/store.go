package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "chatdesk/errors"

	"go.uber.org/zap"
)

const keyPrefix = "chatdesk_"

const (
	keyUsers    = keyPrefix + "users"
	keySessions = keyPrefix + "sessions"
	keyLogs     = keyPrefix + "logs"
	keySettings = keyPrefix + "settings"
)

func userKey(id string) string { return keyPrefix + "user_" + id }

const (
	defaultLogRetention = 200
	defaultLogLimit     = 50
)

// Store exposes typed documents for users, sessions, logs and settings on top
// of a KV. Each document is read-modify-written under one lock, so writes from
// this process never interleave; other writers are last-writer-wins.
type Store struct {
	kv           KV
	mu           sync.Mutex
	logRetention int
	now          func() time.Time
	logger       *zap.Logger
}

func NewStore(kv KV, logRetention int, logger *zap.Logger) *Store {
	if logRetention <= 0 {
		logRetention = defaultLogRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:           kv,
		logRetention: logRetention,
		now:          time.Now,
		logger:       logger,
	}
}

// Close releases the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

// readJSON loads key into dst. Missing and unreadable documents both leave
// dst untouched and report false; only backend failures are errors.
func (s *Store) readJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("Discarding unreadable document", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (s *Store) writeJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, raw)
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}
