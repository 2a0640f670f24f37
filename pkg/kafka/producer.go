package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prohmpiriya/healthcare-educate/pkg/retry"
)

// ErrNoBrokers is returned when a producer is created without seed brokers
var ErrNoBrokers = errors.New("kafka brokers are required")

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers       []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
	LingerMs      int
	// RecordRetries caps franz-go's internal per-record retries
	RecordRetries int
}

// Message is a record to be produced
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Producer produces records synchronously
type Producer struct {
	client *kgo.Client
}

// NewProducer creates a producer and pings the cluster, retrying with backoff
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.LingerMs > 0 {
		opts = append(opts, kgo.ProducerLinger(time.Duration(cfg.LingerMs)*time.Millisecond))
	}
	if cfg.RecordRetries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.RecordRetries))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	err = retry.Do(ctx, &retry.Config{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: interval,
		MaxInterval:     4 * interval,
	}, func(ctx context.Context) error {
		return client.Ping(ctx)
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach kafka brokers: %w", err)
	}

	return &Producer{client: client}, nil
}

// Produce writes one record and waits for the broker acknowledgement
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	return p.client.ProduceSync(ctx, toRecord(msg)).FirstErr()
}

// ProduceJSON marshals value and produces it under key
func (p *Producer) ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal kafka payload: %w", err)
	}

	h := map[string]string{"content_type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}

	return p.Produce(ctx, &Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: h,
	})
}

// Close flushes buffered records and closes the client
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}

func toRecord(msg *Message) *kgo.Record {
	record := &kgo.Record{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
	}

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(msg.Headers[k])})
	}
	return record
}
