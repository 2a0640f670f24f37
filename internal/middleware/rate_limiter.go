package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/internal/metrics"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	"github.com/prohmpiriya/healthcare-educate/pkg/response"
	"github.com/prohmpiriya/healthcare-educate/pkg/telemetry"
)

// RateLimitConfig holds per-client token bucket settings
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate; 0 disables limiting
	RequestsPerSecond int
	// BurstSize is the bucket capacity
	BurstSize int
	// Redis enables the distributed limiter; nil uses the in-process one
	Redis ScriptRunner
	// KeyPrefix namespaces Redis keys
	KeyPrefix string
	// CleanupInterval and EntryTTL bound the in-process limiter's memory
	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

// ScriptRunner runs a cached Lua script
type ScriptRunner interface {
	EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd
}

// DefaultRateLimitConfig returns defaults for credential endpoints
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		BurstSize:         10,
		KeyPrefix:         "ratelimit:",
		CleanupInterval:   time.Minute,
		EntryTTL:          time.Minute,
	}
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// LocalRateLimiter is an in-memory token bucket per key
type LocalRateLimiter struct {
	rate    float64
	burst   float64
	ttl     time.Duration
	entries sync.Map
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewLocalRateLimiter creates a limiter and starts its cleanup loop
func NewLocalRateLimiter(config RateLimitConfig) *LocalRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = time.Minute
	}
	rl := &LocalRateLimiter{
		rate:  float64(config.RequestsPerSecond),
		burst: float64(config.BurstSize),
		ttl:   config.EntryTTL,
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	go rl.cleanup(config.CleanupInterval)
	return rl
}

// Allow takes one token for key and reports the tokens left
func (rl *LocalRateLimiter) Allow(key string) (bool, float64) {
	now := rl.now()
	v, _ := rl.entries.LoadOrStore(key, &bucket{tokens: rl.burst, lastUpdate: now})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = min(rl.burst, b.tokens+now.Sub(b.lastUpdate).Seconds()*rl.rate)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens
	}
	return false, b.tokens
}

func (rl *LocalRateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := rl.now().Add(-rl.ttl)
			rl.entries.Range(func(key, value interface{}) bool {
				b := value.(*bucket)
				b.mu.Lock()
				if b.lastUpdate.Before(cutoff) {
					rl.entries.Delete(key)
				}
				b.mu.Unlock()
				return true
			})
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the cleanup loop
func (rl *LocalRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

tokens = math.min(burst, tokens + math.max(0, now - last_update) * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_update", now)
redis.call("EXPIRE", key, math.ceil(burst / rate) + 1)
return {allowed, tostring(tokens)}
`

// RedisRateLimiter is a token bucket shared by every instance through Redis
type RedisRateLimiter struct {
	client ScriptRunner
	prefix string
	rate   int
	burst  int
}

// NewRedisRateLimiter creates a Redis-backed limiter
func NewRedisRateLimiter(config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: config.Redis,
		prefix: config.KeyPrefix,
		rate:   config.RequestsPerSecond,
		burst:  config.BurstSize,
	}
}

// Allow takes one token for key and reports the tokens left
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, float64, error) {
	now := float64(time.Now().UnixNano()) / 1e9

	values, err := rl.client.EvalWithFallback(ctx, "token_bucket", tokenBucketScript,
		[]string{rl.prefix + key}, rl.rate, rl.burst, now,
	).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(values) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit result length: %d", len(values))
	}

	allowed, _ := values[0].(int64)
	var remaining float64
	switch v := values[1].(type) {
	case string:
		remaining, _ = strconv.ParseFloat(v, 64)
	case int64:
		remaining = float64(v)
	}
	return allowed == 1, remaining, nil
}

// RateLimiter limits requests per route and client IP.
// Redis failures fall back to the in-process limiter.
func RateLimiter(config RateLimitConfig) gin.HandlerFunc {
	if config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerSecond
	}

	local := NewLocalRateLimiter(config)
	var distributed *RedisRateLimiter
	if config.Redis != nil {
		distributed = NewRedisRateLimiter(config)
	}

	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "middleware.rate_limiter")
		defer span.End()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := route + ":" + c.ClientIP()
		span.SetAttributes(attribute.String("client_ip", c.ClientIP()), attribute.String("route", route))

		var (
			allowed   bool
			remaining float64
		)
		if distributed != nil {
			var err error
			allowed, remaining, err = distributed.Allow(ctx, key)
			if err != nil {
				logger.Get().Warn("Redis rate limiter unavailable, using local limiter", zap.Error(err))
				allowed, remaining = local.Allow(key)
			}
		} else {
			allowed, remaining = local.Allow(key)
		}

		span.SetAttributes(attribute.Bool("allowed", allowed))

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerSecond))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, int(remaining))))

		if !allowed {
			span.SetStatus(codes.Error, "rate limit exceeded")
			metrics.RecordRateLimited(ctx, route)

			retryAfter := max(1, int((1-remaining)/float64(config.RequestsPerSecond)+0.999))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				response.TooManyRequests(fmt.Sprintf("Rate limit exceeded. Please retry after %d second(s).", retryAfter)))
			return
		}

		span.SetStatus(codes.Ok, "")
		c.Next()
	}
}
