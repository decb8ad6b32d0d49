package services

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"chatdesk/chat"
	"chatdesk/web/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventQueue(t *testing.T) {
	q := NewEventQueue()
	assert.Empty(t, q.Drain())

	q.Push(chat.Event{Type: chat.EventBusyChanged, Busy: true})
	q.Push(chat.Event{Type: chat.EventModeChanged, Mode: types.ModeImage})

	select {
	case <-q.Ready():
	default:
		t.Fatal("queue should signal after push")
	}

	events := q.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, chat.EventBusyChanged, events[0].Type)
	assert.Equal(t, chat.EventModeChanged, events[1].Type)
	assert.Empty(t, q.Drain())
}

func TestWriteSSEData(t *testing.T) {
	ss := NewStreamService(zap.NewNop())
	rec := httptest.NewRecorder()
	var mu sync.Mutex

	frame := FromEvent(chat.Event{Type: chat.EventSessionUpdated, SessionID: "u_1", Session: &types.Session{ID: "u_1"}})
	require.NoError(t, ss.WriteSSEData(context.Background(), rec, frame, &mu))
	assert.Equal(t,
		"data: {\"type\":\"session.updated\",\"sessionId\":\"u_1\",\"session\":{\"id\":\"u_1\",\"title\":\"\",\"messages\":[],\"updatedAt\":0},\"busy\":false}\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ss.WriteSSEData(ctx, rec, StreamData{Type: StreamTypeEnd}, &mu), context.Canceled)
}
