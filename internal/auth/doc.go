// Package auth implements the bearer-token authentication gate.
//
// Tokens are HMAC-signed JWTs (HS256, HS384, or HS512) verified against a
// shared secret. The gate admits requests on configured public path prefixes
// without credentials, assigns every other request an Identity from the token
// claims, and rejects missing or invalid credentials with a 401 JSON body.
//
// Example usage:
//
//	gate := auth.NewGate(cfg.Auth, logger)
//	handler = gate.Middleware()(handler)
//
// Downstream handlers read the caller via auth.IdentityFromContext.
package auth
