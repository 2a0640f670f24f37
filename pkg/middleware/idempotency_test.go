package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	v, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.data[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.data[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(n)
	return cmd
}

func setupIdempotentRouter(rdb RedisClient, status int, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyMiddleware(IdempotencyConfig{
		Redis: rdb,
		Scope: func(c *gin.Context) string { return c.GetHeader("X-User") },
	}))
	r.POST("/checkout", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"call": *calls})
	})
	return r
}

func doRequest(r *gin.Engine, key, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysFirstResponse(t *testing.T) {
	calls := 0
	r := setupIdempotentRouter(newFakeRedis(), http.StatusOK, &calls)

	first := doRequest(r, "k1", "1", `{"priceId":"price_1"}`)
	second := doRequest(r, "k1", "1", `{"priceId":"price_1"}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	calls := 0
	r := setupIdempotentRouter(newFakeRedis(), http.StatusOK, &calls)

	doRequest(r, "", "1", `{}`)
	doRequest(r, "", "1", `{}`)

	assert.Equal(t, 2, calls)
}

func TestIdempotency_KeysAreScopedPerUser(t *testing.T) {
	calls := 0
	r := setupIdempotentRouter(newFakeRedis(), http.StatusOK, &calls)

	doRequest(r, "same", "1", `{}`)
	doRequest(r, "same", "2", `{}`)

	assert.Equal(t, 2, calls)
}

func TestIdempotency_DifferentBodyRejected(t *testing.T) {
	calls := 0
	r := setupIdempotentRouter(newFakeRedis(), http.StatusOK, &calls)

	doRequest(r, "k1", "1", `{"priceId":"a"}`)
	w := doRequest(r, "k1", "1", `{"priceId":"b"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "IDEMPOTENCY_KEY_REUSED")
	assert.Equal(t, 1, calls)
}

func TestIdempotency_ServerErrorsAreNotCached(t *testing.T) {
	calls := 0
	rdb := newFakeRedis()
	r := setupIdempotentRouter(rdb, http.StatusInternalServerError, &calls)

	doRequest(r, "k1", "1", `{}`)
	doRequest(r, "k1", "1", `{}`)

	assert.Equal(t, 2, calls)
	assert.Empty(t, rdb.data)
}

func TestIdempotency_InFlightRequestConflicts(t *testing.T) {
	calls := 0
	rdb := newFakeRedis()
	r := setupIdempotentRouter(rdb, http.StatusOK, &calls)

	key := IdempotencyKeyPrefix + "1:k1"
	_, err := storeRecord(context.Background(), rdb, key, &idempotencyRecord{
		Status:      statusProcessing,
		RequestHash: hashRequest(http.MethodPost, "/checkout", []byte(`{}`)),
	}, time.Minute, true)
	require.NoError(t, err)

	w := doRequest(r, "k1", "1", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotency_FailsOpenOnRedisError(t *testing.T) {
	calls := 0
	rdb := newFakeRedis()
	rdb.err = assert.AnError
	r := setupIdempotentRouter(rdb, http.StatusOK, &calls)

	w := doRequest(r, "k1", "1", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
}
