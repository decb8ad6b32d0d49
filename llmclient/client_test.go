package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatdesk/config"
	apperrors "chatdesk/errors"
	"chatdesk/prompts"
	"chatdesk/web/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type memoryActivity struct {
	mu      sync.Mutex
	entries []types.LogEntry
}

func (a *memoryActivity) AppendLog(ctx context.Context, entry types.LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memoryActivity) kinds() []types.LogType {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []types.LogType
	for _, e := range a.entries {
		out = append(out, e.Type)
	}
	return out
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *memoryActivity) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		OpenAIBaseURL:         srv.URL + "/",
		ChatModel:             "chat-model",
		CodingModel:           "coding-model",
		ImageModel:            "image-model",
		MaxRetries:            3,
		RetryDelaySeconds:     time.Millisecond,
		LLMBackoffJitterRatio: 0,
		LLMRequestTimeout:     5 * time.Second,
	}
	activity := &memoryActivity{}
	c := NewClient(cfg, activity, zap.NewNop())
	c.httpClient = srv.Client()
	return c, activity
}

func collect(t *testing.T, ch <-chan StreamChunk) ([]string, error) {
	t.Helper()
	var chunks []string
	var lastErr error
	for chunk := range ch {
		if chunk.Err != nil {
			lastErr = chunk.Err
			continue
		}
		chunks = append(chunks, chunk.Text)
	}
	return chunks, lastErr
}

func writeSSE(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": d}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStreamText(t *testing.T) {
	var got chatRequest
	c, activity := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var raw map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		got.Model, _ = raw["model"].(string)
		got.Stream, _ = raw["stream"].(bool)
		msgs, _ := raw["messages"].([]any)
		for _, m := range msgs {
			mm := m.(map[string]any)
			got.Messages = append(got.Messages, chatMessage{Role: mm["role"].(string), Content: mm["content"]})
		}
		writeSSE(w, "Hel", "lo", "!")
	})

	ch, err := c.StreamText(context.Background(), StreamRequest{
		History: []*types.Message{
			{Role: types.RoleUser, Text: "hi"},
			{Role: types.RoleModel, Text: "hello"},
			{Role: types.RoleModel, Text: ""},
		},
		Prompt:            "again",
		Mode:              types.ModeCoding,
		SystemInstruction: prompts.CodingSystem(),
	})
	require.NoError(t, err)

	chunks, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"Hel", "lo", "!"}, chunks)

	assert.Equal(t, "coding-model", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "again", got.Messages[3].Content)

	assert.Equal(t, []types.LogType{types.LogInfo}, activity.kinds())
}

func TestStreamTextRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeSSE(w, "ok")
	})

	ch, err := c.StreamText(context.Background(), StreamRequest{Prompt: "hi", Mode: types.ModeChat})
	require.NoError(t, err)
	chunks, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"ok"}, chunks)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStreamTextServerError(t *testing.T) {
	c, activity := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	ch, err := c.StreamText(context.Background(), StreamRequest{Prompt: "hi"})
	require.NoError(t, err)
	chunks, streamErr := collect(t, ch)
	assert.Empty(t, chunks)
	require.Error(t, streamErr)
	assert.True(t, apperrors.IsGeneration(streamErr))
	assert.Contains(t, apperrors.Reason(streamErr), "boom")
	assert.Equal(t, []types.LogType{types.LogInfo, types.LogError}, activity.kinds())
}

func TestStreamTextCancel(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.StreamText(ctx, StreamRequest{Prompt: "hi"})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Text)
	cancel()

	for chunk := range ch {
		assert.NoError(t, chunk.Err, "cancellation must not surface as a stream error")
	}
}

func TestStreamTextRejectsEmptyPrompt(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.StreamText(context.Background(), StreamRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsGeneration(err))
}

func TestGenerateImage(t *testing.T) {
	var prompt string
	c, activity := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		var req imageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Prompt
		assert.Equal(t, "b64_json", req.ResponseFormat)
		fmt.Fprint(w, `{"data":[{"b64_json":"aGVsbG8="}]}`)
	})

	uri, err := c.GenerateImage(context.Background(), "a red fox")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", uri)
	assert.Equal(t, prompts.ImagePromptPrefix+"a red fox", prompt)
	assert.Equal(t, []types.LogType{types.LogAction}, activity.kinds())
}

func TestGenerateImageEmptyResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})

	_, err := c.GenerateImage(context.Background(), "nothing")
	require.Error(t, err)
	assert.True(t, apperrors.IsGeneration(err))
	assert.True(t, strings.Contains(apperrors.Reason(err), "no image data"))
}

func TestBuildChatMessagesWithImage(t *testing.T) {
	msgs, err := buildChatMessages(StreamRequest{Prompt: "what is this", Image: "data:image/jpeg;base64,aGVsbG8="})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	parts, ok := msgs[0].Content.([]contentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[0].Type)
	assert.Equal(t, "text", parts[1].Type)

	_, err = buildChatMessages(StreamRequest{Image: "data:image/png;base64,***"})
	assert.Error(t, err)
}
