package database

import (
	"context"
	"sort"

	apperrors "chatdesk/errors"
	"chatdesk/web/types"

	"go.uber.org/zap"
)

// SaveResult describes how a session write landed.
type SaveResult struct {
	// Degraded is set when the first write hit the quota and the store
	// retried with every image payload stripped.
	Degraded bool
	// StrippedImages counts the image payloads dropped by the retry.
	StrippedImages int
}

// GetSessionsForUser returns the user's sessions, most recently updated first.
func (s *Store) GetSessionsForUser(ctx context.Context, userID string) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadSessions(ctx)
	if err != nil {
		return nil, err
	}

	var out []*types.Session
	for _, sess := range all {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out, nil
}

// SaveSession upserts the session by id. When the write exceeds the quota,
// image payloads are stripped from all stored sessions and the write is
// retried once.
func (s *Store) SaveSession(ctx context.Context, userID string, session *types.Session) (SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SaveResult
	all, err := s.loadSessions(ctx)
	if err != nil {
		return result, err
	}

	data := session.Clone()
	data.UserID = userID

	replaced := false
	for i, existing := range all {
		if existing.ID == data.ID {
			all[i] = data
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, data)
	}

	err = s.writeJSON(ctx, keySessions, all)
	if err == nil {
		return result, nil
	}
	if !apperrors.IsStorageQuota(err) {
		return result, apperrors.WrapErrorf(err, "save session %s", data.ID)
	}

	result.Degraded = true
	for _, sess := range all {
		for _, m := range sess.Messages {
			if m.Image != "" {
				m.Image = ""
				result.StrippedImages++
			}
		}
	}
	s.logger.Warn("Session store over quota, retrying without images",
		zap.String("session_id", data.ID),
		zap.Int("stripped_images", result.StrippedImages))

	if err := s.writeJSON(ctx, keySessions, all); err != nil {
		return result, apperrors.WrapErrorf(err, "save session %s without images", data.ID)
	}
	return result, nil
}

// DeleteSession removes the session with the given id, if present.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadSessions(ctx)
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, sess := range all {
		if sess.ID != sessionID {
			kept = append(kept, sess)
		}
	}
	return s.writeJSON(ctx, keySessions, kept)
}

// DeleteSessionsBefore removes every session last updated before cutoff
// (Unix milliseconds) and reports how many were removed.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadSessions(ctx)
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	removed := 0
	for _, sess := range all {
		if sess.UpdatedAt < cutoff {
			removed++
			continue
		}
		kept = append(kept, sess)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeJSON(ctx, keySessions, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) loadSessions(ctx context.Context) ([]*types.Session, error) {
	var all []*types.Session
	if _, err := s.readJSON(ctx, keySessions, &all); err != nil {
		return nil, err
	}
	return all, nil
}
