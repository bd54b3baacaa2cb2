package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mstrukov/pylon/internal/auth"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/router"
)

// Headers stamped onto every proxied request. Inbound values are dropped
// first so upstreams can trust them.
const (
	HeaderUserID   = "X-User-Id"
	HeaderTenantID = "X-Tenant-Id"
	HeaderTraceID  = "X-Trace-Id"
)

// hopHeaders are connection-scoped headers that must not cross the proxy.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder performs single proxied exchanges against upstream services.
// One Forwarder is shared by all services; connections are pooled in its
// transport.
type Forwarder struct {
	transport http.RoundTripper
	logger    observability.Logger
}

// Option is a functional option for configuring the forwarder.
type Option func(*Forwarder)

// WithTransport overrides the upstream transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = transport
	}
}

// New creates a forwarder with a pooled upstream transport.
func New(logger observability.Logger, opts ...Option) *Forwarder {
	if logger == nil {
		logger = observability.NopLogger()
	}

	f := &Forwarder{
		transport: newTransport(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// newTransport builds the shared upstream transport.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Forward performs one proxied exchange against target, the upstream base
// URL resolved for route. A timeout of zero leaves the context deadline in
// charge of bounding the exchange.
//
// A non-nil return always means no response reached the client. Once the
// upstream status line has been copied the exchange counts as success
// regardless of status code.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, route router.Route, target string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outReq, err := f.buildRequest(ctx, r, route, target)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := f.transport.RoundTrip(outReq)
	if err != nil {
		return f.classify(err, route.Service, target)
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// The status line is already committed; a torn body cannot be
		// turned into an error response.
		f.logger.Warn("upstream body copy interrupted",
			observability.String("service", route.Service),
			observability.Error(err),
		)
		return nil
	}

	f.logger.Debug("proxied request",
		observability.String("service", route.Service),
		observability.String("path", outReq.URL.Path),
		observability.Int("status", resp.StatusCode),
		observability.Duration("duration", time.Since(start)),
	)
	return nil
}

// buildRequest assembles the outbound request for the upstream.
func (f *Forwarder) buildRequest(ctx context.Context, r *http.Request, route router.Route, target string) (*http.Request, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTarget, target, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w %q: missing scheme or host", ErrInvalidTarget, target)
	}

	outURL := *base
	outURL.Path = joinPath(base.Path, route.StripPrefix(r.URL.Path))
	outURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	outReq.ContentLength = r.ContentLength

	copyHeader(outReq.Header, r.Header)
	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}

	setForwardedHeaders(outReq, r)
	setIdentityHeaders(outReq, r)
	outReq.Host = base.Host

	return outReq, nil
}

// classify maps a transport error onto the proxy's sentinels. Client
// cancellation passes through bare so the circuit breaker can discount it.
func (f *Forwarder) classify(err error, service, target string) error {
	f.logger.Error("upstream exchange failed",
		observability.String("service", service),
		observability.String("target", target),
		observability.Error(err),
	)

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, service, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, service, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, service, err)
	}
}

// setForwardedHeaders appends the client address to X-Forwarded-For and
// records the inbound protocol and host.
func setForwardedHeaders(outReq *http.Request, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", proto)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
}

// setIdentityHeaders stamps the authenticated identity and trace id onto
// the outbound request.
func setIdentityHeaders(outReq *http.Request, r *http.Request) {
	outReq.Header.Del(HeaderUserID)
	outReq.Header.Del(HeaderTenantID)
	outReq.Header.Del(HeaderTraceID)

	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		outReq.Header.Set(HeaderUserID, identity.Subject)
		if identity.Tenant != "" {
			outReq.Header.Set(HeaderTenantID, identity.Tenant)
		}
	}

	if traceID := observability.TraceIDFromContext(r.Context()); traceID != "" {
		outReq.Header.Set(HeaderTraceID, traceID)
	}
}

// joinPath joins the target's base path with the stripped request path.
func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimSuffix(base, "/") + path
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
