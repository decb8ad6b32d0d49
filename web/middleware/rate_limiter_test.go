package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 0)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "bucket with no refill stays empty")
	assert.Equal(t, 0, tb.Remaining())
}

func TestUserRateLimiterIsPerUser(t *testing.T) {
	l := NewUserRateLimiter(RateLimiterConfig{MessagesPerMinute: 1, BurstSize: 1}, zap.NewNop())
	defer l.Stop()

	assert.True(t, l.AllowMessage("a"))
	assert.False(t, l.AllowMessage("a"))
	assert.True(t, l.AllowMessage("b"))

	remaining, limit := l.GetMessageLimit("unknown")
	assert.Equal(t, 1, remaining)
	assert.Equal(t, 1, limit)

	l.Stop()
	l.Stop()
}
