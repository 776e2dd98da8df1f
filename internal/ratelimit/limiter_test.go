package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closetmind/gateway/internal/config"
	"github.com/closetmind/gateway/pkg/logger"
)

func newTestLimiter(t *testing.T, classes map[string]config.ClassLimit) *Limiter {
	t.Helper()
	l := NewLimiter(&config.RateLimitConfig{
		Enabled:         true,
		Classes:         classes,
		BucketTTL:       2 * time.Hour,
		CleanupInterval: time.Minute,
	}, logger.NewNop())
	t.Cleanup(l.Stop)
	return l
}

func TestLimiter_AdmitsExactlyMax(t *testing.T) {
	l := newTestLimiter(t, map[string]config.ClassLimit{
		"auth": {Window: 15 * time.Minute, Max: 5},
	})

	for i := 0; i < 5; i++ {
		d, err := l.Allow("auth", "203.0.113.7", "curl/8.5.0")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := l.Allow("auth", "203.0.113.7", "curl/8.5.0")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestLimiter_WindowResetRestoresQuota(t *testing.T) {
	l := newTestLimiter(t, map[string]config.ClassLimit{
		"weather": {Window: 10 * time.Minute, Max: 2},
	})

	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		d, err := l.Allow("weather", "203.0.113.7", "curl/8.5.0")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.Allow("weather", "203.0.113.7", "curl/8.5.0")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Past the window edge the counter resets wholesale.
	now = now.Add(10*time.Minute + time.Second)

	d, err = l.Allow("weather", "203.0.113.7", "curl/8.5.0")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := newTestLimiter(t, map[string]config.ClassLimit{
		"auth": {Window: 15 * time.Minute, Max: 1},
	})

	d, err := l.Allow("auth", "203.0.113.7", "curl/8.5.0")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Allow("auth", "203.0.113.7", "curl/8.5.0")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Different address, same agent.
	d, err = l.Allow("auth", "198.51.100.9", "curl/8.5.0")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Same address, different agent.
	d, err = l.Allow("auth", "203.0.113.7", "Mozilla/5.0")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_UnknownClassFailsOpen(t *testing.T) {
	l := newTestLimiter(t, map[string]config.ClassLimit{
		"api": {Window: 15 * time.Minute, Max: 100},
	})

	d, err := l.Allow("nope", "203.0.113.7", "curl/8.5.0")
	assert.ErrorIs(t, err, ErrUnknownClass)
	assert.True(t, d.Allowed)
}

func TestLimiter_RetryAfterAtLeastOneSecond(t *testing.T) {
	d := Decision{ResetAt: time.Now().Add(50 * time.Millisecond)}
	assert.Equal(t, 1, d.RetryAfter(time.Now()))
}

func TestLimiter_ConcurrentLastSlot(t *testing.T) {
	l := newTestLimiter(t, map[string]config.ClassLimit{
		"auth": {Window: 15 * time.Minute, Max: 10},
	})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow("auth", "203.0.113.7", "curl/8.5.0")
			require.NoError(t, err)
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted.Load())
}

func TestLimiter_LenCountsBuckets(t *testing.T) {
	l := newTestLimiter(t, map[string]config.ClassLimit{
		"api": {Window: 15 * time.Minute, Max: 100},
	})

	_, err := l.Allow("api", "203.0.113.7", "curl/8.5.0")
	require.NoError(t, err)
	_, err = l.Allow("api", "198.51.100.9", "curl/8.5.0")
	require.NoError(t, err)

	assert.Equal(t, 2, l.Len())
}
