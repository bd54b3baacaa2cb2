package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinel errors for gateway lifecycle operations.
var (
	// ErrGatewayNotStopped indicates that the gateway is not in
	// stopped state when a start operation is attempted.
	ErrGatewayNotStopped = errors.New("gateway is not in stopped state")

	// ErrGatewayNotRunning indicates that the gateway is not
	// running when a stop operation is attempted.
	ErrGatewayNotRunning = errors.New("gateway is not running")

	// ErrNilConfig indicates that a nil configuration was provided.
	ErrNilConfig = errors.New("configuration is required")

	// ErrNilPipeline indicates that no serving pipeline was provided.
	ErrNilPipeline = errors.New("serving pipeline is required")
)

// Error kinds reported in JSON error bodies. Clients switch on the kind;
// the message is a human-readable retry hint.
const (
	// KindNotFound is reported when no configured route claims the path.
	KindNotFound = "NotFound"

	// KindAuthError is reported on missing or invalid credentials. The
	// auth package emits it before dispatch; listed here as part of the
	// taxonomy clients see.
	KindAuthError = "AuthError"

	// KindNoHealthyRoute is reported when the matched service has no
	// healthy upstream. The breaker is not consulted.
	KindNoHealthyRoute = "NoHealthyRoute"

	// KindCircuitOpen is reported when the circuit breaker rejects the
	// call before the upstream is invoked.
	KindCircuitOpen = "CircuitOpen"

	// KindUpstreamTimeout is reported when the upstream did not produce
	// a status line within the deadline.
	KindUpstreamTimeout = "UpstreamTimeout"

	// KindUpstreamError is reported on any other transport-level
	// forward failure.
	KindUpstreamError = "UpstreamError"
)

// Retry hints. CircuitOpen and NoHealthyRoute deliberately share one
// message so callers cannot distinguish them except by kind.
const (
	msgNotFound           = "no route matches the request path"
	msgServiceUnavailable = "service temporarily unavailable, retry later"
	msgUpstreamTimeout    = "upstream request timed out, retry later"
	msgUpstreamError      = "upstream request failed, retry later"
)

// errorResponse is the JSON body for every gateway-originated error.
type errorResponse struct {
	Error   string `json:"error"`
	Service string `json:"service,omitempty"`
	Message string `json:"message"`
}

// writeError writes a JSON error response. The service field is omitted
// when empty (errors raised before a route was matched).
func writeError(w http.ResponseWriter, status int, kind, service, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   kind,
		Service: service,
		Message: message,
	})
}
