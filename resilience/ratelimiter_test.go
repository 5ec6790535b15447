package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		allowed, _, _ := rl.AllowAt("client-a", now)
		assert.True(t, allowed)
	}

	allowed, remaining, retryAfter := rl.AllowAt("client-a", now)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 1)
	now := time.Now()

	allowed, _, _ := rl.AllowAt("client-a", now)
	assert.True(t, allowed)

	allowed, _, _ = rl.AllowAt("client-a", now.Add(50*time.Millisecond))
	assert.False(t, allowed)

	allowed, _, _ = rl.AllowAt("client-a", now.Add(150*time.Millisecond))
	assert.True(t, allowed)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	now := time.Now()

	allowedA, _, _ := rl.AllowAt("client-a", now)
	allowedB, _, _ := rl.AllowAt("client-b", now)
	assert.True(t, allowedA)
	assert.True(t, allowedB)
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	now := time.Now()

	allowed, _, _ := rl.AllowAt("client-a", now)
	require := assert.New(t)
	require.True(allowed)

	allowed, _, _ = rl.AllowAt("client-a", now)
	require.False(allowed)

	rl.Reset("client-a")
	allowed, _, _ = rl.AllowAt("client-a", now)
	require.True(allowed)
}
