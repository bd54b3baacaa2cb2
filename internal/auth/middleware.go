package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
)

// errorKind is the machine-readable kind reported in 401 bodies. It matches
// the gateway error taxonomy so every error response carries the same shape.
const errorKind = "AuthError"

// Gate authenticates requests before they reach the serving pipeline.
//
// With the gate disabled every request is admitted anonymously. Enabled, it
// verifies bearer tokens on all paths except the configured public prefixes.
type Gate struct {
	validator   *Validator
	publicPaths []string
	enabled     bool
	logger      observability.Logger
}

// NewGate builds the authentication gate from configuration.
func NewGate(cfg config.AuthConfig, logger observability.Logger) *Gate {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Gate{
		validator:   NewValidator(cfg.Secret, cfg.Leeway.Duration()),
		publicPaths: cfg.PublicPaths,
		enabled:     cfg.Enabled,
		logger:      logger,
	}
}

// Enabled reports whether the gate checks credentials.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// IsPublicPath reports whether the path bypasses credential checks.
func (g *Gate) IsPublicPath(path string) bool {
	for _, prefix := range g.publicPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Authenticate resolves the identity for a request. Public paths and a
// disabled gate yield the anonymous identity without touching credentials.
func (g *Gate) Authenticate(r *http.Request) (*Identity, error) {
	if !g.enabled || g.IsPublicPath(r.URL.Path) {
		return AnonymousIdentity(), nil
	}

	token, err := extractBearerToken(r)
	if err != nil {
		return nil, err
	}

	claims, err := g.validator.Validate(token)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Tenant:  claims.TenantID,
		Role:    claims.Role,
	}, nil
}

// Middleware returns the HTTP middleware enforcing authentication. Rejected
// requests receive a 401 JSON body and never reach the next handler.
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := g.Authenticate(r)
			if err != nil {
				g.rejectRequest(w, r, err)
				return
			}

			ctx := ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken pulls the token out of the Authorization header. The
// scheme comparison is case-insensitive per RFC 9110.
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoCredentials
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

func (g *Gate) rejectRequest(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.Warn("authentication failed",
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)

	var message string
	switch {
	case errors.Is(err, ErrNoCredentials):
		message = "authentication required"
		w.Header().Set("WWW-Authenticate", "Bearer")
	case errors.Is(err, ErrTokenExpired):
		message = "token expired"
	default:
		message = "invalid token"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	body := struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{Error: errorKind, Message: message}
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		g.logger.Error("writing auth error response", observability.Error(encodeErr))
	}
}
