package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/internal/dto"
)

// MockProducer is a mock implementation of Producer
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error {
	args := m.Called(ctx, topic, key, value, headers)
	return args.Error(0)
}

func TestKafkaEventPublisher_SubscriptionChanged(t *testing.T) {
	producer := new(MockProducer)
	pub := NewKafkaEventPublisher(producer, &KafkaEventPublisherConfig{ServiceName: "billing"})
	ctx := context.Background()

	event := &dto.SubscriptionEvent{
		EventID:              "evt_1",
		EventType:            domain.EventSubscriptionDeleted,
		UserID:               42,
		StripeSubscriptionID: "sub_1",
		Status:               domain.SubscriptionStatusCanceled,
		OccurredAt:           time.Now(),
	}
	producer.On("ProduceJSON", ctx, "billing.subscription-events", "42", event, mock.MatchedBy(func(h map[string]string) bool {
		return h["event_type"] == domain.EventSubscriptionDeleted && h["source"] == "billing"
	})).Return(nil).Once()

	require.NoError(t, pub.PublishSubscriptionChanged(ctx, event))
	producer.AssertExpectations(t)
}

func TestKafkaEventPublisher_DeadLetter(t *testing.T) {
	producer := new(MockProducer)
	pub := NewKafkaEventPublisher(producer, &KafkaEventPublisherConfig{DeadLetterTopic: "dlq"})
	ctx := context.Background()

	letter := &DeadLetter{EventID: "evt_9", EventType: domain.EventInvoicePaymentFailed}
	producer.On("ProduceJSON", ctx, "dlq", "evt_9", letter, mock.Anything).Return(nil).Once()

	require.NoError(t, pub.PublishDeadLetter(ctx, letter))
	producer.AssertExpectations(t)
}

func TestKafkaEventPublisher_ProducerError(t *testing.T) {
	producer := new(MockProducer)
	pub := NewKafkaEventPublisher(producer, &KafkaEventPublisherConfig{})

	producer.On("ProduceJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker down"))

	err := pub.PublishSubscriptionChanged(context.Background(), &dto.SubscriptionEvent{UserID: 1})
	assert.Error(t, err)
}
