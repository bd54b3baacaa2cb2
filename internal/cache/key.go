package cache

import "net/url"

// GenerateKey builds the cache key for a proxied request. Keys follow
// the form "<service>:<path>", with the canonical query string appended
// after "?" when the request carries parameters.
//
// Canonical form: parameter names sorted lexicographically, values of a
// repeated name in their original order, values percent-encoded. Two
// requests that differ only in parameter order therefore share a key.
func GenerateKey(service, path string, query url.Values) string {
	if len(query) == 0 {
		return service + ":" + path
	}
	return service + ":" + path + "?" + query.Encode()
}
