package auth

import (
	"context"
	"strings"
	"testing"

	"chatdesk/database"
	apperrors "chatdesk/errors"
	"chatdesk/web/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, tokensPerMessage int) (*Service, *database.Store) {
	t.Helper()
	store := database.NewStore(database.NewMemoryKV(0), 0, zap.NewNop())
	return NewService(store, store, tokensPerMessage, zap.NewNop()), store
}

func TestEnsureGuest(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 10)

	user, err := svc.EnsureGuest(ctx, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(user.ID, "guest_"))
	assert.True(t, user.IsAdmin)
	assert.True(t, user.IsPro)
	assert.Equal(t, types.PlanLifetime, user.SubscriptionPlan)

	again, err := svc.EnsureGuest(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.JoinedAt, again.JoinedAt)

	// An unknown id cookie is re-provisioned under the same id.
	restored, err := svc.EnsureGuest(ctx, "guest_lost")
	require.NoError(t, err)
	assert.Equal(t, "guest_lost", restored.ID)

	all, err := store.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	logs, err := store.GetLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, types.LogAuth, logs[0].Type)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 10)

	user, err := svc.EnsureGuest(ctx, "")
	require.NoError(t, err)
	p := FromUser(user)

	tests := []struct {
		plan       types.SubscriptionPlan
		wantPro    bool
		wantTokens int
	}{
		{types.PlanFree, false, freePlanTokens},
		{types.PlanPro, true, unlimitedTokens},
		{types.PlanLifetime, true, unlimitedTokens},
	}
	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			updated, err := svc.Subscribe(ctx, p, tt.plan)
			require.NoError(t, err)
			assert.Equal(t, tt.plan, updated.SubscriptionPlan)
			assert.Equal(t, tt.wantPro, updated.IsPro)
			assert.Equal(t, tt.wantTokens, updated.Tokens)
		})
	}

	payments, err := store.GetPayments(ctx)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "User admin@chatdesk.public subscribed to lifetime", payments[0].Message)
}

func TestSpendTokens(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 10)

	require.NoError(t, store.CreateUser(ctx, &types.User{ID: "u1", Tokens: 15}))
	p := Principal{UserID: "u1", Role: RoleGuest}

	require.NoError(t, svc.SpendTokens(ctx, p))
	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, user.Tokens)

	err = svc.SpendTokens(ctx, p)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientTokens)

	// Admins and pro users are never charged, even with no balance.
	assert.NoError(t, svc.SpendTokens(ctx, Principal{UserID: "u1", Role: RoleAdmin}))
	assert.NoError(t, svc.SpendTokens(ctx, Principal{UserID: "u1", Pro: true}))
	user, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, user.Tokens)
}

func TestStubs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 10)
	p := Principal{UserID: "u1", Role: RoleAdmin}

	assert.NoError(t, svc.Login(ctx, p))
	assert.NoError(t, svc.Register(ctx, p))
	assert.ErrorIs(t, svc.Logout(ctx, p), apperrors.ErrAuthDisabled)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	p := FromUser(&types.User{ID: "u1", IsAdmin: true, IsPro: false})
	got, ok := FromContext(WithPrincipal(context.Background(), p))
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.IsAdmin())
	assert.True(t, got.CanUsePremiumModes())

	guest := FromUser(&types.User{ID: "u2"})
	assert.Equal(t, RoleGuest, guest.Role)
	assert.False(t, guest.CanUsePremiumModes())
}
