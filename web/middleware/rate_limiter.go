package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	MessagesPerMinute int           // Max messages per user per minute
	BurstSize         int           // Allow burst of N requests
	CleanupInterval   time.Duration // How often to clean up old entries
}

const (
	defaultCleanupInterval = 10 * time.Minute
	maxTrackedUsers        = 1000
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a new token bucket
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can proceed and consumes a token if so
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Remaining returns the number of tokens remaining
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := time.Since(tb.lastRefill).Seconds()
	tokens := min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	return int(tokens)
}

// UserRateLimiter keeps one message bucket per user.
type UserRateLimiter struct {
	config      RateLimiterConfig
	buckets     map[string]*TokenBucket
	mu          sync.RWMutex
	logger      *zap.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewUserRateLimiter(config RateLimiterConfig, logger *zap.Logger) *UserRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	if config.BurstSize <= 0 {
		config.BurstSize = max(config.MessagesPerMinute, 1)
	}
	limiter := &UserRateLimiter{
		config:      config,
		buckets:     make(map[string]*TokenBucket),
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go limiter.cleanupRoutine()

	return limiter
}

func (l *UserRateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup drops every bucket once too many users are tracked. A dropped
// bucket comes back full, which only ever loosens the limit.
func (l *UserRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > maxTrackedUsers {
		l.logger.Info("Cleaning up rate limiter cache", zap.Int("message_limiters", len(l.buckets)))
		l.buckets = make(map[string]*TokenBucket)
	}
}

// Stop stops the cleanup routine
func (l *UserRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// AllowMessage checks if a message can be sent for the given user
func (l *UserRateLimiter) AllowMessage(userID string) bool {
	l.mu.Lock()
	bucket, exists := l.buckets[userID]
	if !exists {
		refillRate := float64(l.config.MessagesPerMinute) / 60.0
		bucket = NewTokenBucket(float64(l.config.BurstSize), refillRate)
		l.buckets[userID] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

// GetMessageLimit returns remaining message tokens for a user
func (l *UserRateLimiter) GetMessageLimit(userID string) (remaining int, limit int) {
	l.mu.RLock()
	bucket, exists := l.buckets[userID]
	l.mu.RUnlock()

	if !exists {
		return l.config.BurstSize, l.config.BurstSize
	}
	return bucket.Remaining(), l.config.BurstSize
}

// RateLimitMiddleware limits chat submissions per user. It must run after
// PrincipalMiddleware.
func RateLimitMiddleware(limiter *UserRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user not initialized"})
			return
		}

		allowed := limiter.AllowMessage(userID)
		remaining, limit := limiter.GetMessageLimit(userID)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			if logger := loggerFrom(c); logger != nil {
				logger.Warn("Rate limit exceeded",
					zap.String("user_id", userID),
					zap.Int("limit", limit))
			}

			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"limit":       limit,
				"remaining":   remaining,
				"retry_after": 60,
			})
			return
		}

		c.Next()
	}
}
