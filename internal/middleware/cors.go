package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mstrukov/pylon/internal/config"
)

// corsHeaders holds precomputed CORS header values.
type corsHeaders struct {
	allowOrigins     map[string]bool
	wildcardPatterns []string
	allowAllOrigins  bool
	allowMethods     string
	allowHeaders     string
	maxAge           string
	hasAllowMethods  bool
	hasAllowHeaders  bool
	hasMaxAge        bool
}

// newCORSHeaders precomputes header values from config so the per-request
// path only does map lookups and Set calls.
func newCORSHeaders(cfg config.CORSConfig) *corsHeaders {
	allowOrigins := make(map[string]bool)
	var wildcardPatterns []string
	allowAllOrigins := false

	for _, origin := range cfg.AllowOrigins {
		switch {
		case origin == "*":
			allowAllOrigins = true
		case strings.HasPrefix(origin, "*."):
			wildcardPatterns = append(wildcardPatterns, origin)
		default:
			allowOrigins[origin] = true
		}
	}

	maxAge := int(cfg.MaxAge.Duration().Seconds())

	return &corsHeaders{
		allowOrigins:     allowOrigins,
		wildcardPatterns: wildcardPatterns,
		allowAllOrigins:  allowAllOrigins,
		allowMethods:     strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:     strings.Join(cfg.AllowHeaders, ", "),
		maxAge:           strconv.Itoa(maxAge),
		hasAllowMethods:  len(cfg.AllowMethods) > 0,
		hasAllowHeaders:  len(cfg.AllowHeaders) > 0,
		hasMaxAge:        maxAge > 0,
	}
}

// isOriginAllowed checks the origin against the exact set, the wildcard
// patterns, and the allow-all flag.
func (h *corsHeaders) isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}

	if h.allowAllOrigins {
		return true
	}

	if h.allowOrigins[origin] {
		return true
	}

	for _, pattern := range h.wildcardPatterns {
		if matchWildcardOrigin(origin, pattern) {
			return true
		}
	}

	return false
}

// matchWildcardOrigin reports whether an origin matches a wildcard
// pattern such as "*.example.com". The pattern matches any subdomain
// but not the bare domain itself.
func matchWildcardOrigin(origin, pattern string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}

	suffix := pattern[1:] // ".example.com"

	host := origin
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
}

// setCORSHeaders sets CORS headers on the response. The specific origin
// is always echoed rather than "*" so responses stay cacheable per
// origin, with Vary set accordingly.
func (h *corsHeaders) setCORSHeaders(w http.ResponseWriter, origin string) {
	if h.isOriginAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}

	if h.hasAllowMethods {
		w.Header().Set("Access-Control-Allow-Methods", h.allowMethods)
	}

	if h.hasAllowHeaders {
		w.Header().Set("Access-Control-Allow-Headers", h.allowHeaders)
	}

	if h.hasMaxAge {
		w.Header().Set("Access-Control-Max-Age", h.maxAge)
	}
}

// CORS returns a middleware that sets CORS headers for allowed origins
// and answers OPTIONS preflight requests with 204.
func CORS(cfg config.CORSConfig) Middleware {
	headers := newCORSHeaders(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers.setCORSHeaders(w, r.Header.Get(HeaderOrigin))

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
