package services

import (
	"context"

	"chatdesk/chat"
	apperrors "chatdesk/errors"
	"chatdesk/web/format"
	"chatdesk/web/types"

	"go.uber.org/zap"
)

// SessionState is the sidebar view of a user's reducer.
type SessionState struct {
	Sessions []*format.RenderedSession `json:"sessions"`
	ActiveID string                    `json:"activeId"`
	Mode     types.SubmissionMode      `json:"mode"`
	Busy     bool                      `json:"busy"`
}

type SessionService struct {
	manager *chat.Manager
	logger  *zap.Logger
}

func NewSessionService(manager *chat.Manager, logger *zap.Logger) *SessionService {
	return &SessionService{
		manager: manager,
		logger:  logger,
	}
}

// State returns the user's sessions newest first along with the active id.
func (ss *SessionService) State(ctx context.Context, userID string) (SessionState, error) {
	r, err := ss.manager.Get(ctx, userID)
	if err != nil {
		ss.logger.Error("Failed to load sessions", zap.String("user_id", userID), zap.Error(err))
		return SessionState{}, err
	}
	return stateOf(r), nil
}

func (ss *SessionService) Create(ctx context.Context, userID string) (*format.RenderedSession, error) {
	r, err := ss.manager.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess, err := r.NewChat(ctx)
	if err != nil {
		return nil, err
	}
	return format.Session(sess), nil
}

func (ss *SessionService) Select(ctx context.Context, userID, sessionID string) (SessionState, error) {
	r, err := ss.manager.Get(ctx, userID)
	if err != nil {
		return SessionState{}, err
	}
	if err := r.Select(sessionID); err != nil {
		return SessionState{}, err
	}
	return stateOf(r), nil
}

func (ss *SessionService) Delete(ctx context.Context, userID, sessionID string) (SessionState, error) {
	r, err := ss.manager.Get(ctx, userID)
	if err != nil {
		return SessionState{}, err
	}
	if err := r.Delete(ctx, sessionID); err != nil {
		ss.logger.Warn("Failed to delete session",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return SessionState{}, err
	}
	return stateOf(r), nil
}

// Branch forks the active session at messageID.
func (ss *SessionService) Branch(ctx context.Context, userID, messageID string) (*format.RenderedSession, error) {
	r, err := ss.manager.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess, err := r.Branch(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperrors.WrapErrorf(apperrors.ErrNotFound, "message %s in active session", messageID)
	}
	return format.Session(sess), nil
}

func (ss *SessionService) SetMode(ctx context.Context, userID string, mode types.SubmissionMode) (SessionState, error) {
	r, err := ss.manager.Get(ctx, userID)
	if err != nil {
		return SessionState{}, err
	}
	if err := r.SetMode(ctx, mode); err != nil {
		return SessionState{}, err
	}
	return stateOf(r), nil
}

func stateOf(r *chat.Reducer) SessionState {
	state := SessionState{
		Sessions: format.Sessions(r.Sessions()),
		Mode:     r.Mode(),
		Busy:     r.Busy(),
	}
	if active := r.Active(); active != nil {
		state.ActiveID = active.ID
	}
	return state
}
