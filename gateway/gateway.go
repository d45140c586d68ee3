// Package gateway puts a cache in front of a remote backend: reads go through
// the cache and fall back to a retried fetch, writes are retried and then
// invalidate the cached data they affect.
package gateway

import (
	"context"
	"time"

	"github.com/oremus/go-common/cache"
	"github.com/oremus/go-common/logger"
	"github.com/oremus/go-common/resilience"
)

// Gateway composes a cache.Store with a resilience.Retrier.
type Gateway struct {
	store   *cache.Store
	retrier *resilience.Retrier
	logger  logger.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger invalidation failures are reported to.
func WithLogger(log logger.Logger) Option {
	return func(g *Gateway) { g.logger = log }
}

// New returns a Gateway over store and retrier.
func New(store *cache.Store, retrier *resilience.Retrier, opts ...Option) *Gateway {
	g := &Gateway{store: store, retrier: retrier}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	g.logger = g.logger.WithPrefix("[gateway]")
	return g
}

// Store returns the underlying cache.
func (g *Gateway) Store() *cache.Store {
	return g.store
}

// Retrier returns the retrier remote calls go through.
func (g *Gateway) Retrier() *resilience.Retrier {
	return g.retrier
}

// Target is a cache key or a tag affected by a write.
type Target struct {
	key string
	tag string
}

// Key targets a single cache key.
func Key(k string) Target {
	return Target{key: k}
}

// Tag targets every key recorded under a tag.
func Tag(t string) Target {
	return Target{tag: t}
}

func (t Target) String() string {
	if t.tag != "" {
		return "tag:" + t.tag
	}
	return t.key
}

type readOptions struct {
	label     string
	tags      []string
	cacheOpts []cache.CallOption
}

// ReadOption tunes a single Read.
type ReadOption func(*readOptions)

// WithContextLabel names the fetch in logs and classified errors. Defaults to
// the cache key.
func WithContextLabel(label string) ReadOption {
	return func(o *readOptions) { o.label = label }
}

// WithTags records a freshly fetched value under tags.
func WithTags(tags ...string) ReadOption {
	return func(o *readOptions) { o.tags = append(o.tags, tags...) }
}

// WithFallback is returned instead of an error when every fetch attempt
// failed. The fallback is not cached.
func WithFallback(v any) ReadOption {
	return func(o *readOptions) { o.cacheOpts = append(o.cacheOpts, cache.WithFallback(v)) }
}

// WithCacheOptions passes options through to the cache write.
func WithCacheOptions(opts ...cache.CallOption) ReadOption {
	return func(o *readOptions) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// Read returns the cached value for key, or calls fetch through the retrier,
// caches its result for ttl and returns it.
func Read[T any](ctx context.Context, g *Gateway, key string, fetch func(ctx context.Context) (T, error), ttl time.Duration, opts ...ReadOption) (T, error) {
	o := readOptions{label: key}
	for _, opt := range opts {
		opt(&o)
	}
	fetched := false
	val, err := cache.GetOrSet(ctx, g.store, key, func(ctx context.Context) (T, error) {
		v, err := resilience.WithRetry(ctx, g.retrier, o.label, fetch)
		fetched = err == nil
		return v, err
	}, ttl, o.cacheOpts...)
	if err != nil {
		return val, err
	}
	if fetched && len(o.tags) > 0 {
		g.store.AddTags(ctx, key, o.tags)
	}
	return val, nil
}

// Write runs fn through the retrier and, once it succeeds, invalidates
// targets. A failed write invalidates nothing.
func (g *Gateway) Write(ctx context.Context, label string, fn func(ctx context.Context) error, targets ...Target) error {
	if err := g.retrier.Do(ctx, label, fn); err != nil {
		return err
	}
	g.Invalidate(ctx, targets...)
	return nil
}

// WriteThenInvalidate is Write for operations that return a value.
func WriteThenInvalidate[T any](ctx context.Context, g *Gateway, label string, fn func(ctx context.Context) (T, error), targets ...Target) (T, error) {
	val, err := resilience.WithRetry(ctx, g.retrier, label, fn)
	if err != nil {
		return val, err
	}
	g.Invalidate(ctx, targets...)
	return val, nil
}

// Invalidate deletes every target from the cache. Failures are logged and
// not retried; the result reports whether all of them succeeded.
func (g *Gateway) Invalidate(ctx context.Context, targets ...Target) bool {
	ok := true
	for _, target := range targets {
		var done bool
		if target.tag != "" {
			done = g.store.InvalidateByTag(ctx, target.tag)
		} else {
			done = g.store.Delete(ctx, target.key)
		}
		if !done {
			g.logger.Warn("failed to invalidate %s", target)
			ok = false
		}
	}
	return ok
}
