package proxy

import "errors"

// Sentinel errors for proxy operations.
var (
	// ErrInvalidTarget indicates the resolved upstream URL cannot be used.
	ErrInvalidTarget = errors.New("invalid target URL")

	// ErrUpstreamTimeout indicates the upstream exchange exceeded its
	// deadline before a status line arrived.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates the upstream could not be reached or
	// dropped the connection mid-exchange.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
