// Package cache provides a bounded LRU with write-back on eviction.
//
// The virtual object manager keeps recently used object state here. Dirty
// entries are handed to the write-back function when they are evicted or
// flushed; clean entries are simply dropped. The cache is bounded by entry
// count and, optionally, by a resource.Controller memory budget.
package cache
