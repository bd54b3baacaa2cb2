package middleware

import (
	"io"
	"net/http"

	"github.com/mstrukov/pylon/internal/observability"
)

// BodyLimit returns a middleware that limits the request body to maxSize
// bytes. Requests declaring an oversized Content-Length are rejected with
// 413 before the handler runs. Bodies without a declared length are
// capped during reading, so the handler sees a read error instead of an
// unbounded stream.
func BodyLimit(maxSize int64, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.Warn("request body too large",
					observability.Int64("content_length", r.ContentLength),
					observability.Int64("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = io.WriteString(w, ErrRequestEntityTooLarge)
				return
			}

			if r.Body != nil {
				r.Body = &limitedReadCloser{
					ReadCloser: r.Body,
					remaining:  maxSize,
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limitedReadCloser wraps an io.ReadCloser and caps the number of bytes
// that can be read through it.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, errBodySizeExceeded
	}

	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}

	n, err = l.ReadCloser.Read(p)
	l.remaining -= int64(n)

	return n, err
}

var errBodySizeExceeded = &bodySizeExceededError{}

// bodySizeExceededError is returned when reading past the body limit.
type bodySizeExceededError struct{}

func (e *bodySizeExceededError) Error() string {
	return "request body size exceeded"
}
