package trace

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// HeaderName trace ID 的 HTTP header 名称
const HeaderName = "X-Trace-ID"

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, traceID)
}

// Ensure 如果 context 中没有 trace_id 则生成一个
func Ensure(ctx context.Context, traceID string) (context.Context, string) {
	if traceID == "" {
		traceID = FromContext(ctx)
	}
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return WithContext(ctx, traceID), traceID
}
