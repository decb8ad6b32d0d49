package web

import (
	"context"
	"fmt"
	"time"

	"chatdesk/web/types"

	"go.uber.org/zap"
)

// StaleSessionStore is what the cleanup loop prunes.
type StaleSessionStore interface {
	DeleteSessionsBefore(ctx context.Context, cutoff int64) (int, error)
	AppendLog(ctx context.Context, entry types.LogEntry) error
}

// CleanupService deletes sessions that have not been touched for longer
// than the retention age. Reducers that are already loaded keep their copy
// until they are evicted or reloaded.
type CleanupService struct {
	store  StaleSessionStore
	logger *zap.Logger
	now    func() time.Time
}

// NewCleanupService creates a new cleanup service instance
func NewCleanupService(store StaleSessionStore, logger *zap.Logger) *CleanupService {
	return &CleanupService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CleanupStaleSessions deletes sessions older than maxAge and returns how
// many were removed.
func (cs *CleanupService) CleanupStaleSessions(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoffTime := cs.now().Add(-maxAge)

	cs.logger.Info("Starting stale session cleanup",
		zap.Time("cutoff_time", cutoffTime),
		zap.Duration("max_age", maxAge))

	deleted, err := cs.store.DeleteSessionsBefore(ctx, cutoffTime.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}

	if deleted == 0 {
		cs.logger.Debug("No stale sessions found")
		return 0, nil
	}

	msg := fmt.Sprintf("Cleanup removed %d stale sessions", deleted)
	if err := cs.store.AppendLog(ctx, types.LogEntry{Type: types.LogInfo, Message: msg}); err != nil {
		cs.logger.Warn("Failed to append cleanup log", zap.Error(err))
	}

	cs.logger.Info("Stale session cleanup completed", zap.Int("sessions_deleted", deleted))
	return deleted, nil
}

// Run prunes on every interval tick until ctx is cancelled.
func (cs *CleanupService) Run(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := cs.CleanupStaleSessions(ctx, maxAge); err != nil {
				cs.logger.Error("Stale session cleanup failed", zap.Error(err))
			}
		}
	}
}
