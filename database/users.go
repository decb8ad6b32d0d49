package database

import (
	"context"
	"sort"

	apperrors "chatdesk/errors"
	"chatdesk/web/types"
)

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUser(ctx, id)
}

// CreateUser stores the user record and registers it in the user list the
// admin panel reads.
func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeJSON(ctx, userKey(user.ID), user); err != nil {
		return err
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.ID == user.ID {
			return nil
		}
	}
	return s.writeJSON(ctx, keyUsers, append(users, user))
}

// UpdateUser applies patch to the stored user and to its user-list entry.
func (s *Store) UpdateUser(ctx context.Context, id string, patch types.UserPatch) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(user)
	if err := s.writeJSON(ctx, userKey(id), user); err != nil {
		return nil, err
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i, u := range users {
		if u.ID == id {
			users[i] = user
			if err := s.writeJSON(ctx, keyUsers, users); err != nil {
				return nil, err
			}
			break
		}
	}
	return user, nil
}

// GetAllUsers returns every registered user, newest first.
func (s *Store) GetAllUsers(ctx context.Context) ([]*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].JoinedAt > users[j].JoinedAt
	})
	return users, nil
}

func (s *Store) getUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	found, err := s.readJSON(ctx, userKey(id), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.WrapErrorf(apperrors.ErrNotFound, "user %s", id)
	}
	return &user, nil
}

func (s *Store) loadUsers(ctx context.Context) ([]*types.User, error) {
	var users []*types.User
	if _, err := s.readJSON(ctx, keyUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}
