package admin

import (
	"context"
	"fmt"

	apperrors "chatdesk/errors"
	"chatdesk/web/types"

	"go.uber.org/zap"
)

// Store is the slice of the persistent store the admin panel works on.
type Store interface {
	GetAllUsers(ctx context.Context) ([]*types.User, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	UpdateUser(ctx context.Context, id string, patch types.UserPatch) (*types.User, error)
	GetSettings(ctx context.Context) (types.Settings, error)
	UpdateSettings(ctx context.Context, patch types.SettingsPatch) (types.Settings, error)
	AppendLog(ctx context.Context, entry types.LogEntry) error
	GetLogs(ctx context.Context, limit int) ([]types.LogEntry, error)
	GetPayments(ctx context.Context) ([]types.LogEntry, error)
}

// Service implements the administrator operations. Failures are logged
// and returned; nothing is rolled back.
type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) GetUsers(ctx context.Context) ([]*types.User, error) {
	users, err := s.store.GetAllUsers(ctx)
	if err != nil {
		s.logger.Error("Failed to list users", zap.Error(err))
		return nil, err
	}
	return users, nil
}

// ToggleBan flips the user's banned flag and records the action.
func (s *Service) ToggleBan(ctx context.Context, userID string) (*types.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load user for ban toggle", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	banned := !user.IsBanned
	updated, err := s.store.UpdateUser(ctx, userID, types.UserPatch{IsBanned: &banned})
	if err != nil {
		s.logger.Error("Failed to toggle ban", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	verb := "unbanned"
	if banned {
		verb = "banned"
	}
	s.AddLog(ctx, types.LogAction, fmt.Sprintf("Admin %s user %s", verb, userID))
	return updated, nil
}

func (s *Service) GetSettings(ctx context.Context) (types.Settings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.logger.Error("Failed to read settings", zap.Error(err))
	}
	return settings, err
}

// UpdateSettings merges patch over the current settings.
func (s *Service) UpdateSettings(ctx context.Context, patch types.SettingsPatch) (types.Settings, error) {
	settings, err := s.store.UpdateSettings(ctx, patch)
	if err != nil {
		s.logger.Error("Failed to update settings", zap.Error(err))
		return settings, err
	}
	s.AddLog(ctx, types.LogAction, describeSettingsChange(patch))
	return settings, nil
}

// AddLog appends an entry to the system log. Write failures are logged only.
func (s *Service) AddLog(ctx context.Context, typ types.LogType, message string) {
	if err := s.store.AppendLog(ctx, types.LogEntry{Type: typ, Message: message}); err != nil {
		s.logger.Warn("Failed to append system log", zap.String("message", message), zap.Error(err))
	}
}

func (s *Service) GetLogs(ctx context.Context, limit int) ([]types.LogEntry, error) {
	logs, err := s.store.GetLogs(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to read logs", zap.Error(err))
	}
	return logs, err
}

func (s *Service) GetPayments(ctx context.Context) ([]types.LogEntry, error) {
	payments, err := s.store.GetPayments(ctx)
	if err != nil {
		s.logger.Error("Failed to read payments", zap.Error(err))
	}
	return payments, err
}

// DashboardStats counts users overall, on a paid plan and banned.
func (s *Service) DashboardStats(ctx context.Context) (types.DashboardStats, error) {
	var stats types.DashboardStats
	users, err := s.GetUsers(ctx)
	if err != nil {
		return stats, apperrors.WrapError(err, "dashboard stats")
	}
	stats.TotalUsers = len(users)
	for _, u := range users {
		if u.IsPro {
			stats.ProUsers++
		}
		if u.IsBanned {
			stats.BannedUsers++
		}
	}
	return stats, nil
}

func describeSettingsChange(p types.SettingsPatch) string {
	switch {
	case p.MaintenanceMode != nil && *p.MaintenanceMode:
		return "Maintenance mode enabled"
	case p.MaintenanceMode != nil:
		return "Maintenance mode disabled"
	case p.GlobalAlert != nil && *p.GlobalAlert == "":
		return "Global alert cleared"
	case p.GlobalAlert != nil:
		return "Global alert set: " + *p.GlobalAlert
	}
	return "Settings updated"
}
