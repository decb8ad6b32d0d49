package auth

import (
	"context"

	"chatdesk/web/types"
)

// Role is the capability level a request runs with.
type Role string

const (
	RoleGuest Role = "guest"
	RoleAdmin Role = "admin"
)

// Principal is the identity a request acts as. It is threaded explicitly
// through context rather than read from shared state.
type Principal struct {
	UserID string
	Email  string
	Name   string
	Role   Role
	Plan   types.SubscriptionPlan
	Pro    bool
	Banned bool
}

// FromUser derives the principal for a stored user.
func FromUser(u *types.User) Principal {
	role := RoleGuest
	if u.IsAdmin {
		role = RoleAdmin
	}
	return Principal{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   role,
		Plan:   u.SubscriptionPlan,
		Pro:    u.IsPro,
		Banned: u.IsBanned,
	}
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanUsePremiumModes reports whether coding and image modes are available.
func (p Principal) CanUsePremiumModes() bool { return p.IsAdmin() || p.Pro }

// FreeOfCharge reports whether turns cost this principal no tokens.
func (p Principal) FreeOfCharge() bool { return p.IsAdmin() || p.Pro }

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
