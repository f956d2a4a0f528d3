// Package cache keeps a bounded set of open record writers.
//
// WriterCache is a least-recently-used map from slot file path to an open
// codec.Writer. Displaced writers are closed synchronously inside the
// eviction hook, before the new entry becomes visible. A close failure never
// stops an eviction; it is logged and counted.
//
// WriterCache is not safe for concurrent use. It is owned by one bucket.
package cache

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/logging"
	"github.com/xtxerr/metricstore/internal/storage/codec"
)

// Stats holds writer cache statistics.
type Stats struct {
	Capacity      int
	Open          int
	Inserts       int64
	Hits          int64
	Misses        int64
	Evictions     int64
	Removals      int64
	CloseFailures int64
}

type closeFailure struct {
	path string
	err  error
}

// WriterCache is a bounded LRU of open writers keyed by path.
type WriterCache struct {
	lru      *simplelru.LRU[string, codec.Writer]
	capacity int
	log      *slog.Logger

	// failures collects close errors raised by the eviction hook during
	// the current Put/Remove/Close call.
	failures []closeFailure

	stats Stats
}

// New creates a cache holding at most capacity writers.
func New(capacity int) (*WriterCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("writer cache capacity must be positive, got %d: %w", capacity, errors.ErrInvalidConfig)
	}

	c := &WriterCache{
		capacity: capacity,
		log:      logging.Component("writer-cache"),
	}

	lru, err := simplelru.NewLRU[string, codec.Writer](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = lru

	return c, nil
}

// onEvict runs for capacity evictions, Remove and Purge alike.
func (c *WriterCache) onEvict(path string, w codec.Writer) {
	if err := w.Close(); err != nil {
		c.stats.CloseFailures++
		c.failures = append(c.failures, closeFailure{path: path, err: err})
	}
}

func (c *WriterCache) takeFailures() []closeFailure {
	f := c.failures
	c.failures = nil
	return f
}

// Get returns the writer for path and marks it most recently used.
func (c *WriterCache) Get(path string) (codec.Writer, bool) {
	w, ok := c.lru.Get(path)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return w, ok
}

// Contains reports whether a writer for path is open without touching recency.
func (c *WriterCache) Contains(path string) bool {
	return c.lru.Contains(path)
}

// Put inserts w as the writer for path and marks it most recently used.
// If the cache is full the least recently used writer is closed and dropped
// first. A different writer already held for path is closed as well.
func (c *WriterCache) Put(path string, w codec.Writer) {
	if old, ok := c.lru.Peek(path); ok && old != w {
		c.lru.Remove(path)
	}

	if c.lru.Add(path, w) {
		c.stats.Evictions++
	}
	c.stats.Inserts++

	for _, f := range c.takeFailures() {
		c.log.Warn("close evicted writer", "path", f.path, "error", f.err)
	}
}

// Remove closes and drops the writer for path. It returns the close error,
// if any. Removing an absent path is a no-op.
func (c *WriterCache) Remove(path string) error {
	c.failures = nil
	if !c.lru.Remove(path) {
		return nil
	}
	c.stats.Removals++

	var errs []error
	for _, f := range c.takeFailures() {
		errs = append(errs, f.err)
	}
	return errors.Join(errs...)
}

// Len returns the number of open writers.
func (c *WriterCache) Len() int {
	return c.lru.Len()
}

// Keys returns the open paths from least to most recently used.
func (c *WriterCache) Keys() []string {
	return c.lru.Keys()
}

// Close closes every writer, continuing past failures, and empties the
// cache. Each failure is logged and all of them are returned joined.
// Closing an empty cache is a no-op.
func (c *WriterCache) Close() error {
	c.failures = nil
	c.lru.Purge()

	var errs []error
	for _, f := range c.takeFailures() {
		c.log.Warn("close writer", "path", f.path, "error", f.err)
		errs = append(errs, f.err)
	}
	return errors.Join(errs...)
}

// Stats returns cache statistics.
func (c *WriterCache) Stats() Stats {
	s := c.stats
	s.Capacity = c.capacity
	s.Open = c.lru.Len()
	return s
}
