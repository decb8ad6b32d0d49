package handlers

import (
	"net/http"
	"strconv"

	"chatdesk/admin"
	"chatdesk/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	admin  *admin.Service
	logger *zap.Logger
}

func NewAdminHandler(adminService *admin.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  adminService,
		logger: logger,
	}
}

func (h *AdminHandler) Users(c *gin.Context) {
	users, err := h.admin.GetUsers(c.Request.Context())
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *AdminHandler) ToggleBan(c *gin.Context) {
	user, err := h.admin.ToggleBan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("target_user_id", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AdminHandler) Settings(c *gin.Context) {
	settings, err := h.admin.GetSettings(c.Request.Context())
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var patch types.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid settings")
		return
	}
	settings, err := h.admin.UpdateSettings(c.Request.Context(), patch)
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *AdminHandler) Logs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.admin.GetLogs(c.Request.Context(), limit)
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *AdminHandler) Payments(c *gin.Context) {
	payments, err := h.admin.GetPayments(c.Request.Context())
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, payments)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.admin.DashboardStats(c.Request.Context())
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, stats)
}
