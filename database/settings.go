package database

import (
	"context"

	"chatdesk/web/types"
)

// GetSettings returns the stored settings, or the defaults when none exist.
func (s *Store) GetSettings(ctx context.Context) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSettings(ctx)
}

// UpdateSettings merges patch over the current settings and returns the result.
func (s *Store) UpdateSettings(ctx context.Context, patch types.SettingsPatch) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getSettings(ctx)
	if err != nil {
		return current, err
	}
	patch.Apply(&current)
	if err := s.writeJSON(ctx, keySettings, current); err != nil {
		return current, err
	}
	return current, nil
}

func (s *Store) getSettings(ctx context.Context) (types.Settings, error) {
	settings := types.DefaultSettings()
	if _, err := s.readJSON(ctx, keySettings, &settings); err != nil {
		return types.DefaultSettings(), err
	}
	return settings, nil
}
