/*
File: limiter.go
Version: 2.0.0
Description: Per-client token bucket rate limiting plus goroutine-count load shedding for the
             HTTP API. Small overruns are paced (the request waits for its token), large ones
             are rejected with 429. Client state lives in a sharded map swept by a cleanup routine.
*/

package main

import (
	"context"
	"fmt"
	"hash/maphash"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type LimitAction int

const (
	ActionAllow LimitAction = iota
	ActionDelay
	ActionDrop
)

func (a LimitAction) String() string {
	switch a {
	case ActionAllow:
		return "ALLOW"
	case ActionDelay:
		return "DELAY"
	case ActionDrop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

const (
	limitShardCount = 64
	// Longest wait we impose to smooth a burst; anything beyond is a drop.
	maxPacingDelay = time.Second
)

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterShard struct {
	sync.Mutex
	clients map[string]*clientState
}

// LimiterManager decides, per request, whether a client may proceed.
type LimiterManager struct {
	cfg    RateLimitConfig
	seed   maphash.Seed
	now    func() time.Time
	shards [limitShardCount]limiterShard
}

// NewLimiter returns a manager for cfg. A disabled config yields a manager that allows everything.
func NewLimiter(cfg RateLimitConfig) *LimiterManager {
	lm := &LimiterManager{cfg: cfg, seed: maphash.MakeSeed(), now: time.Now}
	for i := range lm.shards {
		lm.shards[i].clients = make(map[string]*clientState)
	}
	return lm
}

func (lm *LimiterManager) Enabled() bool {
	return lm != nil && lm.cfg.Enabled
}

// StartCleanupRoutine evicts idle clients until ctx is cancelled.
func (lm *LimiterManager) StartCleanupRoutine(ctx context.Context) {
	if !lm.Enabled() {
		return
	}
	interval := lm.cfg.parsedCleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	LogInfo("[LIMITER] Starting cleanup routine (Interval: %v)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			LogInfo("[LIMITER] Stopping cleanup routine")
			return
		case <-ticker.C:
			lm.cleanup()
		}
	}
}

func (lm *LimiterManager) cleanup() int {
	expiration := lm.cfg.parsedClientExpiration
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	now := lm.now()
	removed := 0

	for i := range lm.shards {
		s := &lm.shards[i]
		s.Lock()
		for key, st := range s.clients {
			if now.Sub(st.lastSeen) > expiration {
				delete(s.clients, key)
				removed++
			}
		}
		s.Unlock()
	}

	if removed > 0 && IsDebugEnabled() {
		LogDebug("[LIMITER] Cleaned up %d idle client limiters", removed)
	}
	return removed
}

// Clients reports how many clients currently hold limiter state.
func (lm *LimiterManager) Clients() int {
	n := 0
	for i := range lm.shards {
		s := &lm.shards[i]
		s.Lock()
		n += len(s.clients)
		s.Unlock()
	}
	return n
}

// Check evaluates system load first, then the client's token bucket.
func (lm *LimiterManager) Check(client string) (LimitAction, time.Duration, string) {
	if !lm.Enabled() {
		return ActionAllow, 0, ""
	}

	// 1. System health (global)
	if action, delay, reason := lm.checkLoad(runtime.NumGoroutine()); action != ActionAllow {
		return action, delay, reason
	}

	// 2. Client QPS
	if client == "" {
		return ActionAllow, 0, ""
	}

	s := &lm.shards[maphash.String(lm.seed, client)%limitShardCount]
	now := lm.now()

	s.Lock()
	st, ok := s.clients[client]
	if !ok {
		st = &clientState{limiter: rate.NewLimiter(rate.Limit(lm.cfg.ClientQPS), lm.cfg.ClientBurst)}
		s.clients[client] = st
	}
	st.lastSeen = now
	res := st.limiter.ReserveN(now, 1)
	s.Unlock()

	if !res.OK() {
		return ActionDrop, 0, fmt.Sprintf("Client Rate Limit Exceeded (Client: %s, Burst: %d)", client, lm.cfg.ClientBurst)
	}

	delay := res.DelayFrom(now)
	if delay == 0 {
		return ActionAllow, 0, ""
	}
	if delay <= maxPacingDelay {
		return ActionDelay, delay, fmt.Sprintf("Client QPS Pacing (Client: %s, Delay: %v)", client, delay)
	}

	res.CancelAt(now)
	return ActionDrop, 0, fmt.Sprintf("Client QPS Exceeded (Client: %s, Required Delay: %v > Limit: %v)", client, delay, maxPacingDelay)
}

// checkLoad sheds load between the soft and hard goroutine limits. Unset limits disable it.
func (lm *LimiterManager) checkLoad(n int) (LimitAction, time.Duration, string) {
	soft, hard := lm.cfg.MaxGoroutines, lm.cfg.HardMaxGoroutines
	switch {
	case hard <= soft:
		return ActionAllow, 0, ""
	case n >= hard:
		return ActionDrop, 0, fmt.Sprintf("System Overload (Hard Limit: %d/%d Goroutines)", n, hard)
	case n > soft:
		ratio := float64(n-soft) / float64(hard-soft)
		lo, hi := lm.cfg.parsedBaseDelay, lm.cfg.parsedMaxDelay
		delay := lo + time.Duration(float64(hi-lo)*ratio)
		return ActionDelay, delay, fmt.Sprintf("System Load (Soft Limit: %d/%d Goroutines, Ratio: %.2f)", n, soft, ratio)
	}
	return ActionAllow, 0, ""
}

// Middleware applies Check to every request. Paced requests wait (or give up with the
// client); dropped ones get 429 and a Retry-After hint.
func (lm *LimiterManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		action, delay, reason := lm.Check(c.ClientIP())

		switch action {
		case ActionDelay:
			if IsDebugEnabled() {
				LogDebug("[LIMITER] %s", reason)
			}
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-c.Request.Context().Done():
				t.Stop()
				c.AbortWithStatus(http.StatusServiceUnavailable)
				return
			}
		case ActionDrop:
			LogWarn("[LIMITER] %s [%s]", reason, requestID(c))
			c.Header("Retry-After", strconv.Itoa(int(maxPacingDelay/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
