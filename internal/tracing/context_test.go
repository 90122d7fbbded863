package tracing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetConversationID(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithConversationID(ctx, "conv-1")
	ctx = WithHandler(ctx, "credit")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "turn-1", GetTurnID(ctx))
	assert.Equal(t, "conv-1", GetConversationID(ctx))
	assert.Equal(t, "credit", GetHandler(ctx))
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))

	other := NewRequestContext(context.Background())
	assert.NotEqual(t, GetTraceID(ctx), GetTraceID(other))
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithConversationID(WithTraceID(context.Background(), "trace-9"), "conv-9")

	// Enrichment must not panic and must keep the base level.
	logger := LoggerFromContext(ctx, zerolog.Nop())
	logger.Info().Msg("ok")
}
