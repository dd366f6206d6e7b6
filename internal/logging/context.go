package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	userCtxKey    struct{}
	flowCtxKey    struct{}
	sessionCtxKey struct{}
	requestCtxKey struct{}
	loggerCtxKey  struct{}
)

const maxIDLen = 128

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := stringValue(ctx, userCtxKey{}); v != "" {
		fields = append(fields, zap.String("user.id", v))
	}
	if v := stringValue(ctx, flowCtxKey{}); v != "" {
		fields = append(fields, zap.String("flow.id", v))
	}
	if v := stringValue(ctx, sessionCtxKey{}); v != "" {
		fields = append(fields, zap.String("chat_session.id", v))
	}
	if v := stringValue(ctx, requestCtxKey{}); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

func withID(ctx context.Context, key any, id string) context.Context {
	if id == "" {
		return ctx
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return context.WithValue(ctx, key, id)
}

// WithUserID tags ctx with the authenticated user.
func WithUserID(ctx context.Context, id string) context.Context {
	return withID(ctx, userCtxKey{}, id)
}

// UserIDFromContext returns the user id or "".
func UserIDFromContext(ctx context.Context) string { return stringValue(ctx, userCtxKey{}) }

// WithFlowID tags ctx with an onboarding flow id.
func WithFlowID(ctx context.Context, id string) context.Context {
	return withID(ctx, flowCtxKey{}, id)
}

// FlowIDFromContext returns the flow id or "".
func FlowIDFromContext(ctx context.Context) string { return stringValue(ctx, flowCtxKey{}) }

// WithChatSessionID tags ctx with a persisted chat session id.
func WithChatSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionCtxKey{}, id)
}

// ChatSessionIDFromContext returns the chat session id or "".
func ChatSessionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sessionCtxKey{})
}

// WithRequestID tags ctx with the HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestCtxKey{}) }

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the stored logger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
