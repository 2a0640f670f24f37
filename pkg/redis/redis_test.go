package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func getTestConfig() *Config {
	cfg := DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
	cfg.MaxRetries = 0
	return cfg
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "redis.example.com", Port: 6380}
	assert.Equal(t, "redis.example.com:6380", cfg.Addr())
}

func TestIsNoScriptError(t *testing.T) {
	assert.True(t, isNoScriptError(errors.New("NOSCRIPT No matching script. Please use EVAL.")))
	assert.False(t, isNoScriptError(errors.New("ERR something else")))
	assert.False(t, isNoScriptError(nil))
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 1
	cfg.MaxRetries = 0
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := NewClient(context.Background(), cfg)
	assert.Error(t, err)
}

func TestClient_Integration(t *testing.T) {
	skipIfNoIntegration(t)
	ctx := context.Background()

	client, err := NewClient(ctx, getTestConfig())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.HealthCheck(ctx))

	key := "test:setnx:" + time.Now().Format(time.RFC3339Nano)
	defer client.Del(ctx, key)

	ok, err := client.SetNX(ctx, key, "1", time.Minute).Result()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, key, "2", time.Minute).Result()
	require.NoError(t, err)
	assert.False(t, ok)

	script := `return redis.call("GET", KEYS[1])`
	for i := 0; i < 2; i++ {
		val, err := client.EvalWithFallback(ctx, "get", script, []string{key}).Text()
		require.NoError(t, err)
		assert.Equal(t, "1", val)
	}
}
