// Package retry provides exponential backoff retry with jitter for
// transient failures against external backends.
package retry
