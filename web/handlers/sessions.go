package handlers

import (
	"net/http"

	"chatdesk/web/middleware"
	"chatdesk/web/services"
	"chatdesk/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	sessionService *services.SessionService
	logger         *zap.Logger
}

func NewSessionHandler(sessionService *services.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		logger:         logger,
	}
}

func (h *SessionHandler) List(c *gin.Context) {
	state, err := h.sessionService.State(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *SessionHandler) Create(c *gin.Context) {
	sess, err := h.sessionService.Create(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *SessionHandler) Select(c *gin.Context) {
	state, err := h.sessionService.Select(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	state, err := h.sessionService.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("session_id", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, state)
}

type branchRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

// Branch forks session :id at the given message. The session is selected
// first so the fork always comes from the session the client is showing.
func (h *SessionHandler) Branch(c *gin.Context) {
	var req branchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "messageId is required")
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	if _, err := h.sessionService.Select(ctx, userID, c.Param("id")); err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	sess, err := h.sessionService.Branch(ctx, userID, req.MessageID)
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (h *SessionHandler) SetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}
	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.sessionService.SetMode(c.Request.Context(), middleware.UserID(c), mode)
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, state)
}
