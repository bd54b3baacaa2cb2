package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mstrukov/pylon/internal/observability"
)

// TraceIDHeader is the header carrying the request trace identifier.
const TraceIDHeader = "X-Trace-Id"

// TraceID returns a middleware that assigns a trace ID to each request.
// An inbound X-Trace-Id header is reused so hops through multiple
// gateways stay correlated; otherwise a fresh UUID is generated. The ID
// is stored in the request context and echoed on the response.
func TraceID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(TraceIDHeader)
			if traceID == "" {
				traceID = uuid.New().String()
			}

			ctx := observability.ContextWithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)

			w.Header().Set(TraceIDHeader, traceID)

			next.ServeHTTP(w, r)
		})
	}
}
