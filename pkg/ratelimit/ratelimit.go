package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/authcoord/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// DefaultTokenConfig returns default config for silent token requests:
// 5 req/s per caller, burst of 10.
func DefaultTokenConfig() Config {
	return Config{
		Rate:            5,
		Burst:           10,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultInteractiveConfig returns default config for requests that open a
// sign-in page: one every 5 seconds per caller, burst of 2.
func DefaultInteractiveConfig() Config {
	return Config{
		Rate:            0.2,
		Burst:           2,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// CallerKey charges requests to the socket peer. Request headers are never
// part of the key, so a caller cannot mint itself a fresh bucket.
func CallerKey(c *gin.Context) string {
	return "ip:" + c.RemoteIP()
}

// entry holds rate limiter and last access time for a caller
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter implements per-caller rate limiting with automatic cleanup
type Limiter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	key     KeyFunc
	done    chan struct{}
	once    sync.Once
}

// New creates a new per-caller rate limiter with the given configuration
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	rl := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		key:     CallerKey,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// WithKey replaces the bucket selection. It must be called before the
// limiter serves requests.
func (rl *Limiter) WithKey(fn KeyFunc) *Limiter {
	if fn != nil {
		rl.key = fn
	}
	return rl
}

// Allow checks if a request charged to key should be allowed
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// Middleware returns a Gin middleware that applies per-caller rate limiting
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.key(c)) {
			metrics.BrokerRateLimited.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *Limiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

// cleanup periodically removes stale entries
func (rl *Limiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked callers (for testing/metrics)
func (rl *Limiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration (for testing)
func (rl *Limiter) Config() Config {
	return rl.config
}
