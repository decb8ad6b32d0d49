package chat

import (
	"context"
	"testing"

	"chatdesk/database"
	"chatdesk/web/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(database.NewMemoryKV(0), 0, zap.NewNop())
	_, err := store.SaveSession(ctx, "u1", &types.Session{ID: "u1_1", Title: "Saved", UpdatedAt: 1})
	require.NoError(t, err)

	m, err := NewManager(1, Deps{Generator: &fakeGenerator{}, Store: store}, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	r1, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, r1.Active(), "loading selects the newest session")
	assert.Equal(t, "u1_1", r1.Active().ID)

	again, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, r1, again)

	// Capacity one: loading u2 evicts and closes u1.
	r2, err := m.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	assert.Empty(t, r2.Sessions())

	_, err = r1.NewChat(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	m.Forget("u2")
	assert.Equal(t, 0, m.Len())
	_, err = r2.NewChat(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerEvictionKeepsTurnInFlight(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(database.NewMemoryKV(0), 0, zap.NewNop())
	gate := make(chan struct{})
	gen := &fakeGenerator{chunks: textChunks("still ", "here"), gate: gate}

	m, err := NewManager(1, Deps{Generator: gen, Store: store}, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	r1, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	turn, err := r1.Submit(adminCtx, "hello", "")
	require.NoError(t, err)

	_, err = m.Get(ctx, "u2")
	require.NoError(t, err)

	close(gate)
	turn.Wait()

	stored, err := store.GetSessionsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, stored[0].Messages, 2)
	assert.Equal(t, "still here", stored[0].Messages[1].Text)

	_, err = r1.NewChat(ctx)
	assert.ErrorIs(t, err, ErrClosed, "a drained reducer closes once its turn settles")

	reloaded, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, r1, reloaded)
	require.Len(t, reloaded.Sessions(), 1)
	assert.Equal(t, stored[0].ID, reloaded.Active().ID)
}

func TestManagerReadmitsDrainingReducer(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(database.NewMemoryKV(0), 0, zap.NewNop())
	gate := make(chan struct{})
	gen := &fakeGenerator{chunks: textChunks("ok"), gate: gate}

	m, err := NewManager(1, Deps{Generator: gen, Store: store}, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	r1, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	turn, err := r1.Submit(adminCtx, "hello", "")
	require.NoError(t, err)

	r2, err := m.Get(ctx, "u2")
	require.NoError(t, err)

	again, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, r1, again)
	assert.Equal(t, 1, m.Len())

	_, err = r2.NewChat(ctx)
	assert.ErrorIs(t, err, ErrClosed, "idle reducers still close on eviction")

	close(gate)
	turn.Wait()

	_, err = r1.NewChat(ctx)
	assert.NoError(t, err, "a readmitted reducer stays open after its turn")
}
