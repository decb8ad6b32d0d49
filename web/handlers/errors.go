package handlers

import (
	"errors"
	"net/http"

	"chatdesk/chat"
	apperrors "chatdesk/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondWithError logs the technical error and returns a user-friendly message
func respondWithError(c *gin.Context, statusCode int, technicalError error, userMessage string, logger *zap.Logger, fields ...zap.Field) {
	if logger != nil {
		fields = append(fields, zap.Error(technicalError))
		logger.Error("Request failed", fields...)
	}

	c.JSON(statusCode, gin.H{"error": userMessage})
}

// respondWithClientError returns a client error (no logging needed for validation errors)
func respondWithClientError(c *gin.Context, statusCode int, userMessage string) {
	c.JSON(statusCode, gin.H{"error": userMessage})
}

// respondWithAppError maps domain errors onto status codes. Anything it does
// not recognize is a logged 500.
func respondWithAppError(c *gin.Context, err error, logger *zap.Logger, fields ...zap.Field) {
	switch {
	case errors.Is(err, apperrors.ErrBusy):
		respondWithClientError(c, http.StatusConflict, "A response is still being generated")
	case errors.Is(err, apperrors.ErrEmptySubmission):
		respondWithClientError(c, http.StatusBadRequest, "Message cannot be empty")
	case apperrors.IsValidation(err):
		respondWithClientError(c, http.StatusBadRequest, err.Error())
	case apperrors.IsNotFound(err):
		respondWithClientError(c, http.StatusNotFound, "Not found")
	case errors.Is(err, apperrors.ErrForbidden):
		respondWithClientError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, apperrors.ErrMaintenance):
		respondWithClientError(c, http.StatusServiceUnavailable, "The service is under maintenance")
	case errors.Is(err, apperrors.ErrInsufficientTokens):
		respondWithClientError(c, http.StatusPaymentRequired, "Not enough tokens")
	case errors.Is(err, apperrors.ErrAuthDisabled):
		respondWithClientError(c, http.StatusNotImplemented, "Authentication is disabled")
	case errors.Is(err, chat.ErrClosed):
		respondWithClientError(c, http.StatusServiceUnavailable, "Session is shutting down, retry")
	default:
		respondWithError(c, http.StatusInternalServerError, err, "Internal server error", logger, fields...)
	}
}
