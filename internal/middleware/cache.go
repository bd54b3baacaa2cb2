package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mstrukov/pylon/internal/cache"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/router"
)

// maxCacheBodySize caps the response bytes buffered for cache storage.
// Larger responses still reach the client but are not stored.
const maxCacheBodySize = 10 << 20 // 10MB

// cachedResponse holds a serialized HTTP response for cache storage.
type cachedResponse struct {
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// cacheMiddleware holds the state for the caching middleware.
type cacheMiddleware struct {
	cache   cache.Cache
	router  *router.Router
	metrics *observability.Metrics
	logger  observability.Logger
	ttl     time.Duration
}

// Cache returns a middleware that serves GET responses from the cache
// and stores fresh 2xx responses under keys derived from the matched
// service. Requests carrying Cache-Control no-store or no-cache bypass
// the cache, as do requests no route claims. A zero ttl defers to the
// cache backend's default. The metrics parameter may be nil.
func Cache(
	c cache.Cache,
	rt *router.Router,
	metrics *observability.Metrics,
	logger observability.Logger,
	ttl time.Duration,
) Middleware {
	if c == nil || rt == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	if logger == nil {
		logger = observability.NopLogger()
	}

	cm := &cacheMiddleware{
		cache:   c,
		router:  rt,
		metrics: metrics,
		logger:  logger,
		ttl:     ttl,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isCacheable(r) {
				next.ServeHTTP(w, r)
				return
			}

			route, ok := cm.router.Match(r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := cache.GenerateKey(route.Service, r.URL.Path, r.URL.Query())

			if cm.serveFromCache(w, r, key) {
				return
			}

			if cm.metrics != nil {
				cm.metrics.RecordCacheMiss()
			}

			cm.captureAndStore(w, r, next, key)
		})
	}
}

// isCacheable reports whether the request is eligible for caching.
func isCacheable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	cc := r.Header.Get(HeaderCacheControl)
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "no-cache")
}

// serveFromCache attempts to serve a stored response. It returns false
// on a miss or when the stored entry cannot be decoded.
func (cm *cacheMiddleware) serveFromCache(w http.ResponseWriter, r *http.Request, key string) bool {
	data, err := cm.cache.Get(r.Context(), key)
	if err != nil {
		return false
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		cm.logger.Debug("cached entry undecodable, treating as miss",
			observability.String("key", key),
		)
		return false
	}

	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)

	if cm.metrics != nil {
		cm.metrics.RecordCacheHit()
	}

	cm.logger.Debug("cache hit",
		observability.String("key", key),
		observability.String("path", r.URL.Path),
	)

	return true
}

// captureAndStore runs the handler through a recording writer and stores
// the captured response when it qualifies.
func (cm *cacheMiddleware) captureAndStore(
	w http.ResponseWriter,
	r *http.Request,
	next http.Handler,
	key string,
) {
	recorder := &cacheRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}

	next.ServeHTTP(recorder, r)

	// Only 2xx responses are stored.
	if recorder.statusCode < http.StatusOK || recorder.statusCode >= http.StatusMultipleChoices {
		return
	}

	if recorder.bufferExceeded {
		cm.logger.Debug("response too large to cache",
			observability.String("key", key),
			observability.String("path", r.URL.Path),
		)
		return
	}

	cached := cachedResponse{
		StatusCode: recorder.statusCode,
		Headers:    cloneStoredHeaders(recorder.Header()),
		Body:       recorder.body.Bytes(),
	}

	serialized, err := json.Marshal(cached)
	if err != nil {
		return
	}

	if err := cm.cache.Set(r.Context(), key, serialized, cm.ttl); err != nil {
		cm.logger.Debug("cache store failed",
			observability.String("key", key),
			observability.Error(err),
		)
		return
	}

	cm.logger.Debug("cached response",
		observability.String("key", key),
		observability.String("path", r.URL.Path),
	)
}

// cloneStoredHeaders deep-copies response headers for storage, dropping
// per-request headers that outer middleware sets fresh on every
// response. Replaying those from the cache would duplicate them with
// stale values.
func cloneStoredHeaders(h http.Header) map[string][]string {
	clone := make(map[string][]string, len(h))
	for k, vals := range h {
		if skipStoredHeader(k) {
			continue
		}
		vc := make([]string, len(vals))
		copy(vc, vals)
		clone[k] = vc
	}
	return clone
}

// skipStoredHeader reports whether a response header belongs to the
// serving request rather than the cached payload.
func skipStoredHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	if canonical == TraceIDHeader || canonical == "Vary" {
		return true
	}
	return strings.HasPrefix(canonical, "Access-Control-")
}

// cacheRecorder tees the response body into a buffer while writing it
// through to the client.
type cacheRecorder struct {
	http.ResponseWriter
	statusCode     int
	body           *bytes.Buffer
	headerWritten  bool
	bufferExceeded bool
}

// WriteHeader captures the status code and forwards it exactly once.
// Duplicate calls are suppressed to avoid superfluous WriteHeader
// warnings from net/http.
func (cr *cacheRecorder) WriteHeader(code int) {
	if cr.headerWritten {
		return
	}
	cr.statusCode = code
	cr.headerWritten = true
	cr.ResponseWriter.WriteHeader(code)
}

// Write buffers the body for caching and writes it through. Once the
// buffer would exceed maxCacheBodySize it is discarded, but the data
// still reaches the client.
func (cr *cacheRecorder) Write(b []byte) (int, error) {
	if !cr.headerWritten {
		cr.WriteHeader(http.StatusOK)
	}

	if !cr.bufferExceeded {
		if int64(cr.body.Len())+int64(len(b)) > maxCacheBodySize {
			cr.bufferExceeded = true
			cr.body.Reset()
		} else {
			cr.body.Write(b)
		}
	}

	return cr.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming support.
func (cr *cacheRecorder) Flush() {
	if f, ok := cr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (cr *cacheRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := cr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
