// ABOUTME: TTL-bounded, FIFO-evicting request cache with in-flight deduplication.
// ABOUTME: Shields a downstream request function from redundant concurrent or rapid calls.

package reqcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidTTL is returned by New when the TTL is not a positive whole number of milliseconds.
	ErrInvalidTTL = errors.New("ttl must be a positive integer number of milliseconds")

	// ErrInvalidMaxSize is returned by New when maxSize is not a positive integer.
	ErrInvalidMaxSize = errors.New("maxSize must be a positive integer")

	// ErrNilRequestFunc is returned by New when no request function is supplied.
	ErrNilRequestFunc = errors.New("requestFunc must be a function")

	// ErrInvalidKey is returned by Get for an empty key.
	ErrInvalidKey = errors.New("key must be a non-empty string")

	// ErrRequestPanicked wraps a non-error value recovered from a panicking request function.
	ErrRequestPanicked = errors.New("request function panicked")
)

// RequestFunc performs the underlying lookup for a key. Extra arguments given
// to Get are passed through untouched.
type RequestFunc[T any] func(ctx context.Context, key string, args ...any) (T, error)

// Entry is a cached result together with the time it was obtained.
type Entry[T any] struct {
	Key      string
	Content  T
	CachedAt time.Time
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger used for eviction and failure diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Cache deduplicates calls to a RequestFunc. Results are kept for ttl and at
// most maxSize keys are held; the oldest inserted key is evicted first.
// Re-fetching an expired key keeps its original position in the eviction order.
// Expired entries are never served.
// Failed lookups are never stored, so the next Get retries immediately.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // *Entry[T] in insertion order (oldest at front)

	ttl         time.Duration
	maxSize     int
	requestFunc RequestFunc[T]

	inflight singleflight.Group
	clock    clock.Clock
	logger   *slog.Logger

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New validates its arguments and returns a ready cache. Expired entries are
// not swept in the background: they keep their slot until refreshed or
// evicted, so maxSize alone bounds memory and eviction order never depends
// on timing.
func New[T any](ttl time.Duration, maxSize int, fn RequestFunc[T], opts ...Option) (*Cache[T], error) {
	if ttl <= 0 || ttl%time.Millisecond != 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTTL, ttl)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxSize, maxSize)
	}
	if fn == nil {
		return nil, ErrNilRequestFunc
	}

	o := options{clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[T]{
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		ttl:         ttl,
		maxSize:     maxSize,
		requestFunc: fn,
		clock:       o.clock,
		logger:      o.logger.With("component", "reqcache"),
	}
	return c, nil
}

// TTL returns the configured time-to-live.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// MaxSize returns the configured capacity.
func (c *Cache[T]) MaxSize() int { return c.maxSize }

// Get returns the cached result for key, calling the request function on a
// miss. Concurrent callers for the same key share a single call. The error
// returned by the request function is passed through unchanged.
func (c *Cache[T]) Get(ctx context.Context, key string, args ...any) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrInvalidKey
	}

	if content, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return content, nil
	}

	// The shared request outlives any single waiter; each waiter can still
	// give up through its own ctx.
	ch := c.inflight.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key, args)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		content, _ := res.Val.(T)
		return content, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// lookup returns the stored content for key if it has not expired.
func (c *Cache[T]) lookup(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*Entry[T])
	if c.clock.Since(entry.CachedAt) >= c.ttl {
		return zero, false
	}
	return entry.Content, true
}

// fetch runs the request function and stores a successful result.
// It runs at most once per key at a time under the singleflight group.
func (c *Cache[T]) fetch(ctx context.Context, key string, args []any) (any, error) {
	// A caller that lost the race with a finished flight finds the fresh entry here.
	if content, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return content, nil
	}
	c.misses.Add(1)

	content, err := c.call(ctx, key, args)
	if err != nil {
		c.drop(key)
		c.logger.Debug("request failed, not caching", "key", key, "error", err)
		return nil, err
	}

	c.store(key, content)
	return content, nil
}

// call invokes the request function, turning a panic into an error.
func (c *Cache[T]) call(ctx context.Context, key string, args []any) (content T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = perr
				return
			}
			err = fmt.Errorf("%w: %v", ErrRequestPanicked, r)
		}
	}()
	return c.requestFunc(ctx, key, args...)
}

// store records content for key. An existing entry is refreshed in place so it
// keeps its insertion position; a new entry may evict the oldest one.
func (c *Cache[T]) store(key string, content T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*Entry[T])
		entry.Content = content
		entry.CachedAt = now
		return
	}

	for len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(&Entry[T]{Key: key, Content: content, CachedAt: now})
	c.entries[key] = elem
}

// drop removes key, used when refreshing an expired entry fails.
func (c *Cache[T]) drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// evictOldest removes the front of the insertion order. Must be called with mu held.
func (c *Cache[T]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*Entry[T])
	c.order.Remove(front)
	delete(c.entries, entry.Key)
	c.evictions.Add(1)
	c.logger.Debug("evicted entry", "key", entry.Key)
}

// CachedResults returns a snapshot of the stored entries, oldest first.
// Expired entries are included until they are refreshed or evicted.
func (c *Cache[T]) CachedResults() []Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]Entry[T], 0, len(c.entries))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		results = append(results, *elem.Value.(*Entry[T]))
	}
	return results
}

// Stats returns the activity counters and current size.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}
