package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// PoolKey is the context key for the pool name
	PoolKey ContextKey = "pool"
	// ConnIDKey is the context key for the connection id
	ConnIDKey ContextKey = "conn_id"
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
)

// WithContextValue adds a value to the context for logging
func WithContextValue(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// ExtractContextValues extracts logging-relevant values from context
func ExtractContextValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var args []any
	for _, key := range []ContextKey{PoolKey, ConnIDKey, RequestIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			args = append(args, string(key), v)
		}
	}
	return args
}
