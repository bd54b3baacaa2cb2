package auth

import "errors"

// Authentication errors returned by the validator and the gate. The
// middleware maps these onto 401 responses; callers can branch on them
// with errors.Is.
var (
	// ErrNoCredentials indicates the request carried no bearer token.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrTokenMalformed indicates the token is not a well-formed JWT.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrUnsupportedAlgorithm indicates the token declares a signing
	// algorithm outside the supported HMAC family.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

	// ErrInvalidSignature indicates the token signature does not match.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrTokenExpired indicates the exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenNotYetValid indicates the nbf claim is in the future.
	ErrTokenNotYetValid = errors.New("token not yet valid")

	// ErrMissingSubject indicates the required sub claim is absent.
	ErrMissingSubject = errors.New("token missing subject claim")
)
