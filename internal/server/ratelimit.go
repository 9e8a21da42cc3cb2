package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig bounds overall request throughput and, separately, state
// webhook deliveries per source IP. The webhook window can be shared across
// replicas through Redis.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	WebhookLimit  int
	WebhookWindow time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

type rateLimiter struct {
	global         *tokenBucket
	webhookLimit   int
	webhookWindow  time.Duration
	webhookMu      sync.Mutex
	webhookBuckets map[string]*ipLimiter
	store          tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		webhookLimit:   cfg.WebhookLimit,
		webhookWindow:  cfg.WebhookWindow,
		webhookBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.webhookWindow <= 0 {
		rl.webhookWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.webhookLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisTokenStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowWebhook applies the per-source fixed window to state webhook
// deliveries, consulting the shared store when configured.
func (r *rateLimiter) AllowWebhook(key string) (bool, time.Duration, error) {
	if r == nil || r.webhookLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("medialift:webhook:%s", key), r.webhookLimit, r.webhookWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.webhookMu.Lock()
	limiter, exists := r.webhookBuckets[key]
	if !exists {
		rate := float64(r.webhookLimit) / r.webhookWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.webhookWindow.Seconds()
		}
		limiter = &ipLimiter{bucket: newTokenBucket(rate, r.webhookLimit)}
		r.webhookBuckets[key] = limiter
	}
	limiter.lastSeen = time.Now()
	r.cleanupLocked()
	r.webhookMu.Unlock()

	if limiter.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.webhookBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.webhookWindow)
	for key, limiter := range r.webhookBuckets {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.webhookBuckets, key)
		}
	}
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			http.Error(w, "global rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/update-state" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowWebhook(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				http.Error(w, "rate limit failure", http.StatusServiceUnavailable)
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				http.Error(w, "too many webhook deliveries", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
