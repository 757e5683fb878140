package intake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(2)

	require.True(t, rl.Allow("10.0.0.1"))
	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"), "third request within the window is rejected")

	// A different client has its own bucket.
	require.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiter_SetLimit(t *testing.T) {
	rl := NewRateLimiter(1)
	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))

	// A threshold change resets buckets, so the raise applies immediately.
	rl.SetLimit(100)
	require.True(t, rl.Allow("10.0.0.1"))

	// A no-op change keeps state intact.
	rl.SetLimit(100)
	require.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_NonPositiveThresholdClamps(t *testing.T) {
	rl := NewRateLimiter(0)

	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))

	rl = NewRateLimiter(-5)
	require.True(t, rl.Allow("10.0.0.1"))
}
