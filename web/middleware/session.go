package middleware

import (
	"context"
	"net/http"

	"chatdesk/auth"
	"chatdesk/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const UserCookieName = "chatdesk_user"
const CookieMaxAge = 30 * 24 * 60 * 60 // 30 days

const (
	userIDKey    = "userID"
	principalKey = "principal"
)

// GuestProvisioner resolves the cookie's user, creating a guest when needed.
type GuestProvisioner interface {
	EnsureGuest(ctx context.Context, userID string) (*types.User, error)
}

// PrincipalMiddleware attaches the visitor's principal to the request. Every
// visitor without a known user cookie is provisioned as a fresh guest.
func PrincipalMiddleware(users GuestProvisioner) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(UserCookieName)
		if err != nil && err != http.ErrNoCookie {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse user cookie"})
			return
		}

		user, err := users.EnsureGuest(c.Request.Context(), cookie)
		if err != nil {
			if logger := loggerFrom(c); logger != nil {
				logger.Error("Failed to resolve user", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
			return
		}
		if user.ID != cookie {
			c.SetCookie(UserCookieName, user.ID, CookieMaxAge, "/", "", false, true)
		}

		p := auth.FromUser(user)
		c.Set(userIDKey, p.UserID)
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// RequireActive rejects banned users.
func RequireActive() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Principal(c).Banned {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Your account has been suspended"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects everyone but administrators.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Principal(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator access required"})
			return
		}
		c.Next()
	}
}

// UserID returns the id set by PrincipalMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func Principal(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Principal{}
}

func loggerFrom(c *gin.Context) *zap.Logger {
	logger, _ := c.Get("logger")
	zapLogger, _ := logger.(*zap.Logger)
	return zapLogger
}
