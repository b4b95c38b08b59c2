// Package cache provides a small key-value cache with LRU eviction and
// optional per-entry TTL.
//
// [Cache] stores values as any; [NewTyped] wraps it for a concrete value
// type. The event-sourcing repository keeps recently loaded aggregates in a
// typed cache keyed by aggregate id:
//
//	c := cache.NewTyped[*Account](cache.NewLRU(cache.LRUOpts{Size: 1000}))
//	c.Put("acc-1", account, cache.WithTTL(5*time.Minute))
//	if a, ok := c.Get("acc-1"); ok {
//	    // a is *Account
//	}
//
// Expired entries are evicted lazily when they are read.
package cache
