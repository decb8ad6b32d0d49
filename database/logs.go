package database

import (
	"context"
	"strings"

	"chatdesk/web/types"

	"github.com/google/uuid"
)

// AppendLog records entry as the newest log line, dropping the oldest lines
// past the retention cap.
func (s *Store) AppendLog(ctx context.Context, entry types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, err := s.loadLogs(ctx)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Timestamp = s.nowMillis()

	logs = append([]types.LogEntry{entry}, logs...)
	if len(logs) > s.logRetention {
		logs = logs[:s.logRetention]
	}
	return s.writeJSON(ctx, keyLogs, logs)
}

// GetLogs returns up to limit entries, newest first; limit <= 0 means 50.
func (s *Store) GetLogs(ctx context.Context, limit int) ([]types.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = defaultLogLimit
	}
	logs, err := s.loadLogs(ctx)
	if err != nil {
		return nil, err
	}
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// GetPayments returns the subscription actions from the log.
func (s *Store) GetPayments(ctx context.Context) ([]types.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, err := s.loadLogs(ctx)
	if err != nil {
		return nil, err
	}
	var payments []types.LogEntry
	for _, l := range logs {
		if l.Type == types.LogAction && strings.Contains(l.Message, "subscribed") {
			payments = append(payments, l)
		}
	}
	return payments, nil
}

func (s *Store) loadLogs(ctx context.Context) ([]types.LogEntry, error) {
	var logs []types.LogEntry
	if _, err := s.readJSON(ctx, keyLogs, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
