package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventLedgerPrefix     = "billing:webhook:event:"
	defaultEventLedgerTTL = 72 * time.Hour
)

// EventLedger remembers webhook event ids that were fully handled
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
}

// LedgerClient is the subset of Redis the ledger needs
type LedgerClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisEventLedger stores handled event ids in Redis with a TTL
type RedisEventLedger struct {
	client LedgerClient
	ttl    time.Duration
}

// NewRedisEventLedger creates a Redis-backed ledger
func NewRedisEventLedger(client LedgerClient, ttl time.Duration) *RedisEventLedger {
	if ttl <= 0 {
		ttl = defaultEventLedgerTTL
	}
	return &RedisEventLedger{client: client, ttl: ttl}
}

// Seen reports whether eventID was recorded
func (l *RedisEventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, eventLedgerPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record marks eventID as handled
func (l *RedisEventLedger) Record(ctx context.Context, eventID string) error {
	return l.client.SetNX(ctx, eventLedgerPrefix+eventID, time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
}

// NoopEventLedger never short-circuits
type NoopEventLedger struct{}

func (NoopEventLedger) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoopEventLedger) Record(context.Context, string) error       { return nil }
