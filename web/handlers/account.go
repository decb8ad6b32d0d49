package handlers

import (
	"context"
	"net/http"

	"chatdesk/auth"
	"chatdesk/web/middleware"
	"chatdesk/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SettingsReader serves the public part of the site settings.
type SettingsReader interface {
	GetSettings(ctx context.Context) (types.Settings, error)
}

type AccountHandler struct {
	auth     *auth.Service
	settings SettingsReader
	logger   *zap.Logger
}

func NewAccountHandler(authService *auth.Service, settings SettingsReader, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		auth:     authService,
		settings: settings,
		logger:   logger,
	}
}

// Me returns the signed-in user record.
func (h *AccountHandler) Me(c *gin.Context) {
	user, err := h.auth.EnsureGuest(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, user)
}

type publicSettings struct {
	MaintenanceMode   bool    `json:"maintenanceMode"`
	GlobalAlert       *string `json:"globalAlert"`
	AllowRegistration bool    `json:"allowRegistration"`
}

// Settings exposes the switches every visitor's client needs.
func (h *AccountHandler) Settings(c *gin.Context) {
	s, err := h.settings.GetSettings(c.Request.Context())
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, publicSettings{
		MaintenanceMode:   s.MaintenanceMode,
		GlobalAlert:       s.GlobalAlert,
		AllowRegistration: s.AllowRegistration,
	})
}

func (h *AccountHandler) Login(c *gin.Context) {
	if err := h.auth.Login(c.Request.Context(), middleware.Principal(c)); err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) Register(c *gin.Context) {
	if err := h.auth.Register(c.Request.Context(), middleware.Principal(c)); err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), middleware.Principal(c)); err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

type subscribeRequest struct {
	Plan string `json:"plan" binding:"required"`
}

func (h *AccountHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "plan is required")
		return
	}
	plan, err := types.ParsePlan(req.Plan)
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.auth.Subscribe(c.Request.Context(), middleware.Principal(c), plan)
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("plan", string(plan)))
		return
	}
	c.JSON(http.StatusOK, user)
}
