package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/healthcare-educate/pkg/response"
)

const (
	// IdempotencyKeyHeader carries the client-chosen key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ContextKeyIdempotencyKey is the gin context key holding the presented key
	ContextKeyIdempotencyKey = "idempotency_key"

	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultProcessingTTL  = 60 * time.Second
	IdempotencyKeyPrefix  = "idempotency:"
	maxIdempotencyKeyLen  = 255
)

type recordStatus string

const (
	statusProcessing recordStatus = "processing"
	statusCompleted  recordStatus = "completed"
)

type idempotencyRecord struct {
	Status       recordStatus `json:"status"`
	RequestHash  string       `json:"request_hash"`
	ResponseCode int          `json:"response_code"`
	ResponseBody string       `json:"response_body"`
	CreatedAt    time.Time    `json:"created_at"`
}

// RedisClient is the subset of Redis used for idempotency records
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig configures IdempotencyMiddleware
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL applies to completed records
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight marker blocks retries
	ProcessingTTL time.Duration
	// Scope namespaces keys, typically by the authenticated user
	Scope func(*gin.Context) string
}

// IdempotencyMiddleware replays the first response for a repeated X-Idempotency-Key.
// Requests without the header pass through untouched, and Redis failures fail open.
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultIdempotencyTTL
	}
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = DefaultProcessingTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" || cfg.Redis == nil {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, response.BadRequest("X-Idempotency-Key is too long"))
			return
		}
		c.Set(ContextKeyIdempotencyKey, key)

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		requestHash := hashRequest(c.Request.Method, c.Request.URL.Path, body)

		redisKey := IdempotencyKeyPrefix
		if cfg.Scope != nil {
			redisKey += cfg.Scope(c) + ":"
		}
		redisKey += key

		ctx := c.Request.Context()

		existing, err := loadRecord(ctx, cfg.Redis, redisKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}
		if existing != nil {
			replay(c, existing, requestHash)
			return
		}

		record := &idempotencyRecord{
			Status:      statusProcessing,
			RequestHash: requestHash,
			CreatedAt:   time.Now().UTC(),
		}
		acquired, err := storeRecord(ctx, cfg.Redis, redisKey, record, cfg.ProcessingTTL, true)
		if err != nil {
			c.Next()
			return
		}
		if !acquired {
			if existing, _ = loadRecord(ctx, cfg.Redis, redisKey); existing != nil {
				replay(c, existing, requestHash)
				return
			}
		}

		rw := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rw

		c.Next()

		status := rw.Status()
		// Server failures are not replayed so the client can retry with the same key.
		if status >= http.StatusInternalServerError {
			cfg.Redis.Del(context.WithoutCancel(ctx), redisKey)
			return
		}

		record.Status = statusCompleted
		record.ResponseCode = status
		record.ResponseBody = rw.body.String()
		_, _ = storeRecord(context.WithoutCancel(ctx), cfg.Redis, redisKey, record, cfg.TTL, false)
	}
}

func replay(c *gin.Context, record *idempotencyRecord, requestHash string) {
	if record.RequestHash != requestHash {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, response.Error("IDEMPOTENCY_KEY_REUSED", "Idempotency key already used with a different request"))
		return
	}
	if record.Status == statusProcessing {
		c.AbortWithStatusJSON(http.StatusConflict, response.Error("REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed"))
		return
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(record.ResponseCode, "application/json; charset=utf-8", []byte(record.ResponseBody))
	c.Abort()
}

// GetIdempotencyKey returns the key presented on this request, if any
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	return c.GetString(ContextKeyIdempotencyKey), c.GetString(ContextKeyIdempotencyKey) != ""
}

type capturingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func loadRecord(ctx context.Context, rdb RedisClient, key string) (*idempotencyRecord, error) {
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func storeRecord(ctx context.Context, rdb RedisClient, key string, record *idempotencyRecord, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	if onlyIfAbsent {
		return rdb.SetNX(ctx, key, string(data), ttl).Result()
	}
	return true, rdb.Set(ctx, key, string(data), ttl).Err()
}
