package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/taskmail/pkg/apiresponses"
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

// DefaultAPIConfig applies to the mail API as a whole: 20 req/s per key, burst of 50.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultPasswordResetConfig is much stricter since every request sends a
// mail synchronously: one request every 10 seconds per key, burst of 3.
func DefaultPasswordResetConfig() Config {
	return Config{
		Rate:            0.1,
		Burst:           3,
		CleanupInterval: time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// KeyFunc derives the bucket key of a request.
type KeyFunc func(c *gin.Context) string

// ByClientIP keys requests by the client IP (honouring trusted proxies).
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByIdentity keys authenticated requests by the identity the auth middleware
// stored under contextKey and falls back to the client IP.
func ByIdentity(contextKey string) KeyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(contextKey); ok {
			if id, ok := v.(string); ok && id != "" {
				return "id:" + id
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// entry holds rate limiter and last access time for one key
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter is a keyed token bucket limiter with automatic cleanup of idle keys.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	keyFunc KeyFunc
	done    chan struct{}
	once    sync.Once
}

// New creates a limiter; a nil keyFunc keys by client IP.
func New(cfg Config, keyFunc KeyFunc) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if keyFunc == nil {
		keyFunc = ByClientIP
	}

	rl := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		keyFunc: keyFunc,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether one more request for key fits in its bucket.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.entries[key] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// Middleware rejects requests over the limit with 429.
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.keyFunc(c)) {
			apiresponses.RespondTooManyRequests(c, "")
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

// Len returns the number of tracked keys.
func (rl *Limiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Config returns a copy of the configuration.
func (rl *Limiter) Config() Config {
	return rl.config
}
