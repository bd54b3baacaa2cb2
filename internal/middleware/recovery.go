package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/mstrukov/pylon/internal/observability"
)

// Recovery returns a middleware that recovers from panics, logs the stack
// trace, and responds with a JSON 500. It sits outermost in the pipeline
// so no panic escapes to net/http. The metrics parameter may be nil.
func Recovery(logger observability.Logger, metrics *observability.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						observability.String("method", r.Method),
						observability.String("path", r.URL.Path),
						observability.Any("error", err),
						observability.String("stack", string(debug.Stack())),
					)

					if metrics != nil {
						metrics.RecordPanic()
					}

					w.Header().Set(HeaderContentType, ContentTypeJSON)
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = io.WriteString(w, ErrInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
