package handlers

import (
	"context"
	"net/http"

	"chatdesk/chat"
	"chatdesk/web/middleware"
	"chatdesk/web/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChatHandler struct {
	chatService    *services.ChatService
	sessionService *services.SessionService
	logger         *zap.Logger
}

type ChatRequest struct {
	Message   string `json:"message" form:"message"`
	Image     string `json:"image" form:"image"` // data URI
	SessionID string `json:"sessionId" form:"session_id"`
}

func NewChatHandler(chatService *services.ChatService, sessionService *services.SessionService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		sessionService: sessionService,
		logger:         logger,
	}
}

// SendMessage submits a message and streams the turn's events.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBind(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}
	userID := middleware.UserID(c)

	if req.SessionID != "" {
		if _, err := h.sessionService.Select(c.Request.Context(), userID, req.SessionID); err != nil {
			respondWithAppError(c, err, h.logger, zap.String("user_id", userID))
			return
		}
	}

	err := h.chatService.StreamTurn(c.Request.Context(), c.Writer, userID,
		func(ctx context.Context, r *chat.Reducer) (*chat.Turn, error) {
			return r.Submit(ctx, req.Message, req.Image)
		})
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("user_id", userID))
	}
}

// Regenerate re-runs the last user message of the active session.
func (h *ChatHandler) Regenerate(c *gin.Context) {
	userID := middleware.UserID(c)
	err := h.chatService.StreamTurn(c.Request.Context(), c.Writer, userID,
		func(ctx context.Context, r *chat.Reducer) (*chat.Turn, error) {
			return r.Regenerate(ctx)
		})
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("user_id", userID))
	}
}
