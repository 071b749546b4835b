package remote

import (
	"context"
	"net/http"
)

type traceHeadersKeyType string

const traceHeadersKey traceHeadersKeyType = "trace-headers"

// WithTraceHeaders attaches opaque caller identity/trace headers to the
// context. The client copies them verbatim onto every outbound request
// without inspecting their contents.
func WithTraceHeaders(ctx context.Context, h http.Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	return context.WithValue(ctx, traceHeadersKey, h.Clone())
}

// TraceHeaders returns the headers attached by WithTraceHeaders, or nil.
func TraceHeaders(ctx context.Context) http.Header {
	if h, ok := ctx.Value(traceHeadersKey).(http.Header); ok {
		return h
	}
	return nil
}
