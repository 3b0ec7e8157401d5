package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryConsumeLazyBucketAtMaxCapacity(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxTokens: 5, RefillInterval: time.Second, RefillAmount: 1})
	require.True(t, rl.TryConsume("p1", 5))
	require.False(t, rl.TryConsume("p1", 1))
}

func TestTryConsumeZeroIsProbe(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxTokens: 1, RefillInterval: time.Hour, RefillAmount: 1})
	require.True(t, rl.TryConsume("p1", 0))
	require.True(t, rl.TryConsume("p1", 1))
	require.False(t, rl.TryConsume("p1", 0))
}

func TestTryConsumeRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxTokens: 5, RefillInterval: 20 * time.Millisecond, RefillAmount: 2})
	require.True(t, rl.TryConsume("p1", 5))
	require.False(t, rl.TryConsume("p1", 1))

	time.Sleep(25 * time.Millisecond)
	require.True(t, rl.TryConsume("p1", 1))
}
