package middleware

import (
	"net/http"
	"time"

	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/router"
)

// Metrics returns a middleware that records Prometheus metrics for each
// request. The service label comes from the route table so path
// cardinality stays bounded; requests no route claims are labeled with
// observability.UnmatchedService.
func Metrics(m *observability.Metrics, rt *router.Router) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.IncActiveRequests()
			defer m.DecActiveRequests()

			rw := &responseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			service := observability.UnmatchedService
			if route, ok := rt.Match(r.URL.Path); ok {
				service = route.Service
			}

			m.RecordRequest(r.Method, service, rw.status, time.Since(start), int64(rw.size))
		})
	}
}
