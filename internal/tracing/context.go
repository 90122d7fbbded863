package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for turn ID
	TurnIDKey ContextKey = "turn_id"
	// ConversationIDKey is the context key for conversation ID
	ConversationIDKey ContextKey = "conversation_id"
	// HandlerKey is the context key for the owning handler name
	HandlerKey ContextKey = "handler"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

// NewRequestContext returns a context carrying a fresh trace ID.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithConversationID adds a conversation ID to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithHandler adds the owning handler name to the context
func WithHandler(ctx context.Context, handler string) context.Context {
	return context.WithValue(ctx, HandlerKey, handler)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string {
	if turnID, ok := ctx.Value(TurnIDKey).(string); ok {
		return turnID
	}
	return ""
}

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string {
	if conversationID, ok := ctx.Value(ConversationIDKey).(string); ok {
		return conversationID
	}
	return ""
}

// GetHandler retrieves the owning handler name from the context
func GetHandler(ctx context.Context) string {
	if handler, ok := ctx.Value(HandlerKey).(string); ok {
		return handler
	}
	return ""
}

// LoggerFromContext returns a logger enriched with whatever tracing
// identifiers the context carries.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	if turnID := GetTurnID(ctx); turnID != "" {
		lc = lc.Str("turn_id", turnID)
	}
	if conversationID := GetConversationID(ctx); conversationID != "" {
		lc = lc.Str("conversation_id", conversationID)
	}
	if handler := GetHandler(ctx); handler != "" {
		lc = lc.Str("handler", handler)
	}
	return lc.Logger()
}
