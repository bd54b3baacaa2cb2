package middleware

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderOrigin is the Origin header name.
	HeaderOrigin = "Origin"

	// HeaderCacheControl is the Cache-Control header name.
	HeaderCacheControl = "Cache-Control"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// Error response constants.
const (
	// ErrInternalServerError is the error body for a recovered panic.
	ErrInternalServerError = `{"error":"internal server error"}`

	// ErrRequestEntityTooLarge is the error body for an oversized request.
	ErrRequestEntityTooLarge = `{"error":"request entity too large"}`
)
