// Package registry tracks upstream services, their base addresses, and
// their health as observed by a periodic probe loop. The request path only
// reads service status; the checker is the sole writer.
package registry
