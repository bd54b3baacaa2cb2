// Package cache provides the response cache for the gateway.
//
// Two backends are available, selected by configuration:
//
//   - An in-memory LRU cache bounded by a maximum key count, with
//     per-entry TTL and a background sweep that removes expired
//     entries.
//   - A Redis-backed cache with key prefixing, TTL jitter, transient
//     error retry with exponential backoff, and a client-side circuit
//     breaker so an unreachable Redis degrades to cache misses instead
//     of per-request stalls.
//
// Keys are built with GenerateKey, which canonicalizes query parameter
// order so equivalent requests share an entry.
//
// # Example Usage
//
//	c, err := cache.New(cfg.Cache, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	key := cache.GenerateKey("users", "/users/42", r.URL.Query())
//	err = c.Set(ctx, key, body, 0)
//	value, err := c.Get(ctx, key)
//
// # Thread Safety
//
// All cache implementations are safe for concurrent use.
package cache
