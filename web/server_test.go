package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatdesk/admin"
	"chatdesk/auth"
	"chatdesk/chat"
	"chatdesk/config"
	"chatdesk/database"
	"chatdesk/llmclient"
	"chatdesk/metrics"
	"chatdesk/web/middleware"
	"chatdesk/web/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedGenerator struct {
	chunks []string
}

func (g *scriptedGenerator) StreamText(ctx context.Context, req llmclient.StreamRequest) (<-chan llmclient.StreamChunk, error) {
	out := make(chan llmclient.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range g.chunks {
			select {
			case out <- llmclient.StreamChunk{Text: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *scriptedGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return "data:image/png;base64,AAAA", nil
}

type testEnv struct {
	server *Server
	store  *database.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := database.NewStore(database.NewMemoryKV(0), 0, logger)
	authService := auth.NewService(store, store, 0, logger)
	rec := metrics.New()

	manager, err := chat.NewManager(8, chat.Deps{
		Generator: &scriptedGenerator{chunks: []string{"Hello", " **world**"}},
		Store:     store,
		Settings:  store,
		Tokens:    authService,
		Metrics:   rec,
	}, chat.Options{}, logger)
	require.NoError(t, err)

	srv := NewServer(Dependencies{
		Manager:  manager,
		Auth:     authService,
		Admin:    admin.NewService(store, logger),
		Settings: store,
		Metrics:  rec,
	}, logger, &config.Config{RateLimitMessagesPerMin: 60, RateLimitBurstSize: 3})

	t.Cleanup(func() {
		srv.Close()
		manager.Close()
	})
	return &testEnv{server: srv, store: store}
}

// do sends a request as the user behind cookie, or as a new visitor when
// cookie is empty, and returns the response and the effective user cookie.
func (e *testEnv) do(t *testing.T, method, path, body, cookie string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: middleware.UserCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.UserCookieName {
			cookie = c.Value
		}
	}
	return rec, cookie
}

func sseFrames(t *testing.T, body string) []services.StreamData {
	t.Helper()
	var frames []services.StreamData
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "frame %q", block)
		var frame services.StreamData
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatdesk_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestGuestProvisioning(t *testing.T) {
	env := newTestEnv(t)

	rec, cookie := env.do(t, http.MethodGet, "/api/me", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(cookie, "guest_"))

	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, cookie, me["id"])
	assert.Equal(t, true, me["isAdmin"])

	rec, again := env.do(t, http.MethodGet, "/api/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cookie, again)
	assert.Empty(t, rec.Result().Cookies(), "known users are not issued a new cookie")
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t)

	rec, cookie := env.do(t, http.MethodPost, "/api/chat", `{"message":"hi there"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := sseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, services.StreamTypeEnd, frames[len(frames)-1].Type)

	var last *services.StreamData
	for i := range frames {
		if frames[i].Session != nil {
			last = &frames[i]
		}
	}
	require.NotNil(t, last)
	msgs := last.Session.Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[0].Text)
	assert.Equal(t, "Hello **world**", msgs[1].Text)
	assert.Contains(t, msgs[1].Rendered, "<strong>world</strong>")

	rec, _ = env.do(t, http.MethodGet, "/api/sessions", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var state services.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Len(t, state.Sessions, 1)
	assert.Equal(t, state.Sessions[0].ID, state.ActiveID)
	assert.Equal(t, "hi there", state.Sessions[0].Title)

	stored, err := env.store.GetSessionsForUser(context.Background(), cookie)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Len(t, stored[0].Messages, 2)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/chat", `{"message":"   "}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegenerateWithoutHistoryEndsImmediately(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/chat/regenerate", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, services.StreamTypeEnd, frames[0].Type)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t)

	_, cookie := env.do(t, http.MethodGet, "/api/me", "", "")
	for i := 0; i < 3; i++ {
		rec, _ := env.do(t, http.MethodPost, "/api/chat", `{"message":"again"}`, cookie)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec, _ := env.do(t, http.MethodPost, "/api/chat", `{"message":"again"}`, cookie)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t)

	_, cookie := env.do(t, http.MethodPost, "/api/chat", `{"message":"first"}`, "")

	rec, _ := env.do(t, http.MethodGet, "/api/sessions", "", cookie)
	var state services.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Len(t, state.Sessions, 1)
	srcID := state.Sessions[0].ID
	userMsg := state.Sessions[0].Messages[0].ID

	rec, _ = env.do(t, http.MethodPost, "/api/sessions/"+srcID+"/branch", `{"messageId":"`+userMsg+`"}`, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	var branch map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &branch))
	assert.Equal(t, "Branch: first", branch["title"])

	rec, _ = env.do(t, http.MethodPost, "/api/sessions/"+srcID+"/branch", `{"messageId":"missing"}`, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/sessions", "", cookie)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/sessions/"+srcID, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var afterDelete services.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &afterDelete))
	assert.Len(t, afterDelete.Sessions, 2)
	for _, sess := range afterDelete.Sessions {
		assert.NotEqual(t, srcID, sess.ID)
	}

	rec, _ = env.do(t, http.MethodDelete, "/api/sessions/"+srcID, "", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPut, "/api/mode", `{"mode":"coding"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var afterMode services.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &afterMode))
	assert.EqualValues(t, "coding", afterMode.Mode)

	rec, _ = env.do(t, http.MethodPut, "/api/mode", `{"mode":"poetry"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)

	_, cookie := env.do(t, http.MethodGet, "/api/me", "", "")

	rec, _ := env.do(t, http.MethodPatch, "/api/admin/settings", `{"maintenanceMode":true,"globalAlert":"Heads up"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/settings", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var public map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &public))
	assert.Equal(t, true, public["maintenanceMode"])
	assert.Equal(t, "Heads up", public["globalAlert"])

	rec, _ = env.do(t, http.MethodGet, "/api/admin/stats", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalUsers":1,"proUsers":1,"bannedUsers":0}`, rec.Body.String())

	rec, _ = env.do(t, http.MethodGet, "/api/admin/logs?limit=10", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Maintenance mode enabled")

	rec, _ = env.do(t, http.MethodPost, "/api/admin/users/nobody/ban", "", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribeAndPayments(t *testing.T) {
	env := newTestEnv(t)

	_, cookie := env.do(t, http.MethodGet, "/api/me", "", "")
	rec, _ := env.do(t, http.MethodPost, "/api/subscribe", `{"plan":"free"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var user map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, false, user["isPro"])
	assert.EqualValues(t, 10000, user["tokens"])

	rec, _ = env.do(t, http.MethodPost, "/api/subscribe", `{"plan":"gold"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/admin/payments", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subscribed to free")
}

func TestBannedUserIsRejected(t *testing.T) {
	env := newTestEnv(t)

	_, cookie := env.do(t, http.MethodGet, "/api/me", "", "")
	rec, _ := env.do(t, http.MethodPost, "/api/admin/users/"+cookie+"/ban", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/chat", `{"message":"hello"}`, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/me", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthStubs(t *testing.T) {
	env := newTestEnv(t)

	rec, cookie := env.do(t, http.MethodPost, "/api/auth/login", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/auth/logout", "", cookie)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
