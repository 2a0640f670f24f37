package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedgerClient is a map-backed LedgerClient
type fakeLedgerClient struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newFakeLedgerClient() *fakeLedgerClient {
	return &fakeLedgerClient{keys: make(map[string]time.Duration)}
}

func (f *fakeLedgerClient) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeLedgerClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewBoolCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if _, ok := f.keys[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.keys[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func TestRedisEventLedger(t *testing.T) {
	ctx := context.Background()
	client := newFakeLedgerClient()
	ledger := NewRedisEventLedger(client, 0)

	seen, err := ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, ledger.Record(ctx, "evt_1"))
	require.NoError(t, ledger.Record(ctx, "evt_1"))

	seen, err = ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.Equal(t, defaultEventLedgerTTL, client.keys[eventLedgerPrefix+"evt_1"])
}

func TestRedisEventLedger_Error(t *testing.T) {
	client := newFakeLedgerClient()
	client.err = errors.New("connection refused")
	ledger := NewRedisEventLedger(client, time.Hour)

	_, err := ledger.Seen(context.Background(), "evt_1")
	assert.Error(t, err)
	assert.Error(t, ledger.Record(context.Background(), "evt_1"))
}
