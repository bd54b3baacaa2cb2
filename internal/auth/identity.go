package auth

import "context"

// Identity describes the authenticated caller of a request.
type Identity struct {
	Subject string
	Email   string
	Tenant  string
	Role    string

	// Anonymous marks requests admitted through a public path or with the
	// gate disabled, where no credentials were checked.
	Anonymous bool
}

// AnonymousIdentity returns the identity assigned to requests that bypass
// credential checks.
func AnonymousIdentity() *Identity {
	return &Identity{Subject: "anonymous", Anonymous: true}
}

type contextKey string

const identityKey contextKey = "auth.identity"

// ContextWithIdentity returns a context carrying the identity.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity stored in the context, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}
