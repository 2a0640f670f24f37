package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	t.Run("rejects unknown level", func(t *testing.T) {
		err := Init(&Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("development logger", func(t *testing.T) {
		err := Init(&Config{Level: "debug", ServiceName: "test", Development: true})
		require.NoError(t, err)
		assert.NotNil(t, Get().Logger)
	})
}

func TestErrorContext_AddsTraceFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.ErrorContext(ctx, "webhook handler failed", zap.String("event_id", "evt_1"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	assert.Equal(t, "evt_1", fields["event_id"])
}

func TestWithContext_NoSpan(t *testing.T) {
	l := New(zap.NewNop())
	assert.Same(t, l, l.WithContext(context.Background()))
}
