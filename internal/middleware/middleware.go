package middleware

import "net/http"

// Middleware decorates an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares into one. The first middleware is the
// outermost, so Chain(a, b)(h) serves requests through a, then b, then h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
