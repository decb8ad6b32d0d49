package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "chatdesk/errors"
	"chatdesk/web/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	guestName        = "Guest Admin"
	guestEmail       = "admin@chatdesk.public"
	unlimitedTokens  = 999999
	freePlanTokens   = 10000
	avatarURLPattern = "https://api.dicebear.com/7.x/avataaars/svg?seed=%d"
)

// UserStore is the slice of the persistent store the auth service needs.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
	CreateUser(ctx context.Context, user *types.User) error
	UpdateUser(ctx context.Context, id string, patch types.UserPatch) (*types.User, error)
}

type LogAppender interface {
	AppendLog(ctx context.Context, entry types.LogEntry) error
}

// Service provisions guest identities and manages plans and token balances.
// Real authentication is disabled: every visitor is a guest administrator.
type Service struct {
	users            UserStore
	logs             LogAppender
	tokensPerMessage int
	logger           *zap.Logger
	now              func() time.Time
}

func NewService(users UserStore, logs LogAppender, tokensPerMessage int, logger *zap.Logger) *Service {
	return &Service{
		users:            users,
		logs:             logs,
		tokensPerMessage: tokensPerMessage,
		logger:           logger,
		now:              time.Now,
	}
}

// EnsureGuest returns the stored user for userID, provisioning a new guest
// administrator when the id is empty or unknown.
func (s *Service) EnsureGuest(ctx context.Context, userID string) (*types.User, error) {
	if userID != "" {
		user, err := s.users.GetUser(ctx, userID)
		if err == nil {
			return user, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
	} else {
		userID = newGuestID()
	}

	now := s.now()
	user := &types.User{
		ID:               userID,
		Name:             guestName,
		Email:            guestEmail,
		Avatar:           fmt.Sprintf(avatarURLPattern, now.UnixMilli()),
		SubscriptionPlan: types.PlanLifetime,
		IsPro:            true,
		Tokens:           unlimitedTokens,
		IsAdmin:          true,
		JoinedAt:         now.UnixMilli(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, apperrors.WrapError(err, "provision guest user")
	}
	s.logger.Info("Provisioned guest user", zap.String("user_id", user.ID))
	s.appendLog(ctx, types.LogAuth, fmt.Sprintf("Guest session started for %s", user.ID))
	return user, nil
}

// Login is a stub: the caller is already signed in as a guest.
func (s *Service) Login(ctx context.Context, p Principal) error {
	s.logger.Debug("Login requested while authentication is disabled", zap.String("user_id", p.UserID))
	return nil
}

// Register is a stub with the same behavior as Login.
func (s *Service) Register(ctx context.Context, p Principal) error {
	return s.Login(ctx, p)
}

// Logout always fails: guest sessions are permanent.
func (s *Service) Logout(ctx context.Context, p Principal) error {
	return apperrors.ErrAuthDisabled
}

// Subscribe switches the principal's plan and resets the token balance.
func (s *Service) Subscribe(ctx context.Context, p Principal, plan types.SubscriptionPlan) (*types.User, error) {
	patch := types.UserPatch{SubscriptionPlan: &plan}
	switch plan {
	case types.PlanFree:
		pro, tokens := false, freePlanTokens
		patch.IsPro, patch.Tokens = &pro, &tokens
	case types.PlanPro, types.PlanLifetime:
		pro, tokens := true, unlimitedTokens
		patch.IsPro, patch.Tokens = &pro, &tokens
	}

	user, err := s.users.UpdateUser(ctx, p.UserID, patch)
	if err != nil {
		return nil, apperrors.WrapErrorf(err, "subscribe %s to %s", p.UserID, plan)
	}
	s.appendLog(ctx, types.LogAction, fmt.Sprintf("User %s subscribed to %s", user.Email, plan))
	return user, nil
}

// SpendTokens charges one message worth of tokens. Administrators and pro
// users are never charged.
func (s *Service) SpendTokens(ctx context.Context, p Principal) error {
	if p.FreeOfCharge() || s.tokensPerMessage <= 0 {
		return nil
	}
	user, err := s.users.GetUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if user.Tokens < s.tokensPerMessage {
		return apperrors.ErrInsufficientTokens
	}
	remaining := user.Tokens - s.tokensPerMessage
	if _, err := s.users.UpdateUser(ctx, p.UserID, types.UserPatch{Tokens: &remaining}); err != nil {
		return apperrors.WrapError(err, "deduct tokens")
	}
	return nil
}

func (s *Service) appendLog(ctx context.Context, typ types.LogType, msg string) {
	if s.logs == nil {
		return
	}
	if err := s.logs.AppendLog(ctx, types.LogEntry{Type: typ, Message: msg}); err != nil {
		s.logger.Warn("Failed to append log", zap.String("message", msg), zap.Error(err))
	}
}

func newGuestID() string {
	return "guest_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
}
