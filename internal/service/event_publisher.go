package service

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/healthcare-educate/internal/dto"
	"github.com/prohmpiriya/healthcare-educate/pkg/kafka"
)

// EventPublisher announces billing changes to other services
type EventPublisher interface {
	// PublishSubscriptionChanged publishes a subscription state transition
	PublishSubscriptionChanged(ctx context.Context, event *dto.SubscriptionEvent) error
	// PublishDeadLetter publishes a webhook event whose handler failed
	PublishDeadLetter(ctx context.Context, letter *DeadLetter) error
}

// DeadLetter is a verified webhook event that could not be applied
type DeadLetter struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Error     string    `json:"error"`
	Payload   string    `json:"payload"`
	FailedAt  time.Time `json:"failedAt"`
}

// Producer is the subset of the Kafka producer used for publishing
type Producer interface {
	ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
}

// KafkaEventPublisher implements EventPublisher on Kafka topics
type KafkaEventPublisher struct {
	producer          Producer
	subscriptionTopic string
	deadLetterTopic   string
	source            string
}

// KafkaEventPublisherConfig contains configuration for the publisher
type KafkaEventPublisherConfig struct {
	SubscriptionTopic string
	DeadLetterTopic   string
	ServiceName       string
}

// NewKafkaEventPublisher creates a Kafka event publisher
func NewKafkaEventPublisher(producer Producer, cfg *KafkaEventPublisherConfig) *KafkaEventPublisher {
	p := &KafkaEventPublisher{
		producer:          producer,
		subscriptionTopic: cfg.SubscriptionTopic,
		deadLetterTopic:   cfg.DeadLetterTopic,
		source:            cfg.ServiceName,
	}
	if p.subscriptionTopic == "" {
		p.subscriptionTopic = "billing.subscription-events"
	}
	if p.deadLetterTopic == "" {
		p.deadLetterTopic = "billing.webhook-dead-letter"
	}
	return p
}

// PublishSubscriptionChanged publishes keyed by user id so a user's events stay ordered
func (p *KafkaEventPublisher) PublishSubscriptionChanged(ctx context.Context, event *dto.SubscriptionEvent) error {
	return p.producer.ProduceJSON(ctx, p.subscriptionTopic, event.Key(), event, map[string]string{
		"event_type": event.EventType,
		"event_id":   event.EventID,
		"source":     p.source,
	})
}

// PublishDeadLetter publishes keyed by provider event id
func (p *KafkaEventPublisher) PublishDeadLetter(ctx context.Context, letter *DeadLetter) error {
	return p.producer.ProduceJSON(ctx, p.deadLetterTopic, letter.EventID, letter, map[string]string{
		"event_type": letter.EventType,
		"source":     p.source,
	})
}

var _ Producer = (*kafka.Producer)(nil)

// NoopEventPublisher drops every event. Used when Kafka is disabled.
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishSubscriptionChanged(context.Context, *dto.SubscriptionEvent) error {
	return nil
}

func (NoopEventPublisher) PublishDeadLetter(context.Context, *DeadLetter) error { return nil }

// MemoryEventPublisher keeps published events in memory, for tests
type MemoryEventPublisher struct {
	mu            sync.Mutex
	subscriptions []*dto.SubscriptionEvent
	deadLetters   []*DeadLetter
	Err           error
}

func (p *MemoryEventPublisher) PublishSubscriptionChanged(ctx context.Context, event *dto.SubscriptionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.subscriptions = append(p.subscriptions, event)
	return nil
}

func (p *MemoryEventPublisher) PublishDeadLetter(ctx context.Context, letter *DeadLetter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.deadLetters = append(p.deadLetters, letter)
	return nil
}

// SubscriptionEvents returns published subscription events in order
func (p *MemoryEventPublisher) SubscriptionEvents() []*dto.SubscriptionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*dto.SubscriptionEvent(nil), p.subscriptions...)
}

// DeadLetters returns published dead letters in order
func (p *MemoryEventPublisher) DeadLetters() []*DeadLetter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*DeadLetter(nil), p.deadLetters...)
}
