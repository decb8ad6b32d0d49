package services

import (
	"context"
	"net/http"
	"sync"

	"chatdesk/chat"

	"go.uber.org/zap"
)

// TurnStarter begins a turn on a reducer; Submit and Regenerate fit it.
type TurnStarter func(ctx context.Context, r *chat.Reducer) (*chat.Turn, error)

type ChatService struct {
	manager       *chat.Manager
	streamService *StreamService
	logger        *zap.Logger
}

func NewChatService(manager *chat.Manager, streamService *StreamService, logger *zap.Logger) *ChatService {
	return &ChatService{
		manager:       manager,
		streamService: streamService,
		logger:        logger,
	}
}

// StreamTurn starts a turn for userID and relays the reducer's events to w
// as SSE until the turn settles, ending with an "end" frame. Errors from
// starting the turn are returned before anything is written, so the caller
// can still answer with a normal error response.
//
// A client that disconnects stops the relay, not the turn.
func (cs *ChatService) StreamTurn(ctx context.Context, w http.ResponseWriter, userID string, start TurnStarter) error {
	reducer, err := cs.manager.Get(ctx, userID)
	if err != nil {
		return err
	}

	queue := NewEventQueue()
	unsubscribe := reducer.Subscribe(queue.Push)
	defer unsubscribe()

	turn, err := start(ctx, reducer)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	cs.streamService.PrepareSSE(w)
	w.WriteHeader(http.StatusOK)

	flush := func() error {
		for _, ev := range queue.Drain() {
			if err := cs.streamService.WriteSSEData(ctx, w, FromEvent(ev), &mu); err != nil {
				return err
			}
		}
		return nil
	}

	if turn != nil {
	relay:
		for {
			select {
			case <-queue.Ready():
				if err := flush(); err != nil {
					cs.logger.Debug("Stopped relaying turn events", zap.String("user_id", userID), zap.Error(err))
					return nil
				}
			case <-turn.Done():
				break relay
			case <-ctx.Done():
				cs.logger.Debug("Client disconnected mid-turn", zap.String("user_id", userID))
				return nil
			}
		}
	}

	if err := flush(); err != nil {
		return nil
	}
	if err := cs.streamService.WriteSSEData(ctx, w, StreamData{Type: StreamTypeEnd}, &mu); err != nil {
		cs.logger.Debug("Failed to write end frame", zap.Error(err))
	}
	return nil
}
