// Package proxy forwards requests to upstream services.
//
// The Forwarder performs one proxied exchange per call: it strips the
// matched route prefix, stamps identity, trace, and X-Forwarded-* headers,
// removes hop-by-hop headers in both directions, and copies the upstream
// response back verbatim. The exchange is bounded by the caller's context
// plus an optional per-service timeout.
//
// A non-nil error always means no response reached the client, which lets
// callers wrap Forward in a circuit breaker: transport failures and
// timeouts surface as ErrUpstreamUnavailable and ErrUpstreamTimeout, while
// upstream HTTP status codes, including 4xx and 5xx, pass through and are
// not errors.
package proxy
