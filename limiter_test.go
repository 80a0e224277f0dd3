package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rl RateLimitConfig) (*LimiterManager, *time.Time) {
	t.Helper()
	cfg := &Config{RateLimit: rl}
	require.NoError(t, applyDefaults(cfg))

	lm := NewLimiter(cfg.RateLimit)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	lm.now = func() time.Time { return now }
	return lm, &now
}

func TestLimiter_Disabled(t *testing.T) {
	lm := NewLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		action, _, _ := lm.Check("192.0.2.1")
		require.Equal(t, ActionAllow, action)
	}
	assert.Zero(t, lm.Clients())

	var nilManager *LimiterManager
	assert.False(t, nilManager.Enabled())
}

func TestLimiter_PacingThenDrop(t *testing.T) {
	lm, now := newTestLimiter(t, RateLimitConfig{Enabled: true, ClientQPS: 1, ClientBurst: 2})

	action, _, _ := lm.Check("192.0.2.1")
	assert.Equal(t, ActionAllow, action)
	action, _, _ = lm.Check("192.0.2.1")
	assert.Equal(t, ActionAllow, action)

	action, delay, reason := lm.Check("192.0.2.1")
	assert.Equal(t, ActionDelay, action)
	assert.Equal(t, time.Second, delay)
	assert.Contains(t, reason, "Pacing")

	action, _, reason = lm.Check("192.0.2.1")
	assert.Equal(t, ActionDrop, action)
	assert.Contains(t, reason, "Exceeded")

	// Other clients have their own bucket.
	action, _, _ = lm.Check("198.51.100.2")
	assert.Equal(t, ActionAllow, action)

	// Dropped reservations are returned, so time heals.
	*now = now.Add(5 * time.Second)
	action, _, _ = lm.Check("192.0.2.1")
	assert.Equal(t, ActionAllow, action)
}

func TestLimiter_EmptyClientAllowed(t *testing.T) {
	lm, _ := newTestLimiter(t, RateLimitConfig{Enabled: true, ClientQPS: 1, ClientBurst: 1})
	for i := 0; i < 5; i++ {
		action, _, _ := lm.Check("")
		assert.Equal(t, ActionAllow, action)
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	lm, now := newTestLimiter(t, RateLimitConfig{Enabled: true, ClientExpiration: "1m"})

	lm.Check("192.0.2.1")
	lm.Check("192.0.2.2")
	assert.Equal(t, 2, lm.Clients())

	*now = now.Add(30 * time.Second)
	lm.Check("192.0.2.2")
	assert.Zero(t, lm.cleanup())

	*now = now.Add(45 * time.Second)
	assert.Equal(t, 1, lm.cleanup())
	assert.Equal(t, 1, lm.Clients())
}

func TestLimiter_CheckLoad(t *testing.T) {
	lm, _ := newTestLimiter(t, RateLimitConfig{
		Enabled:           true,
		MaxGoroutines:     100,
		HardMaxGoroutines: 200,
		BaseDelay:         "10ms",
		MaxDelay:          "110ms",
	})

	action, _, _ := lm.checkLoad(50)
	assert.Equal(t, ActionAllow, action)

	action, delay, _ := lm.checkLoad(150)
	assert.Equal(t, ActionDelay, action)
	assert.Equal(t, 60*time.Millisecond, delay)

	action, _, reason := lm.checkLoad(200)
	assert.Equal(t, ActionDrop, action)
	assert.Contains(t, reason, "Overload")

	off := NewLimiter(RateLimitConfig{Enabled: true})
	action, _, _ = off.checkLoad(1 << 20)
	assert.Equal(t, ActionAllow, action)
}

func TestLimiter_CleanupRoutineStops(t *testing.T) {
	lm, _ := newTestLimiter(t, RateLimitConfig{Enabled: true, CleanupInterval: "5ms"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		lm.StartCleanupRoutine(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup routine did not stop")
	}
}

func TestLimitAction_String(t *testing.T) {
	assert.Equal(t, "ALLOW", ActionAllow.String())
	assert.Equal(t, "DELAY", ActionDelay.String())
	assert.Equal(t, "DROP", ActionDrop.String())
	assert.Equal(t, "UNKNOWN", LimitAction(9).String())
}
