package ctxutil

import "context"

type traceDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

type callerKey struct{}

// WithCaller stashes the resolved user name for the lifetime of a
// request so downstream components don't need it threaded explicitly.
func WithCaller(ctx context.Context, userName string) context.Context {
	return context.WithValue(ctx, callerKey{}, userName)
}

func Caller(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}
