package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/logger"
)

const (
	// DefaultPrefix namespaces every durable key owned by a Store.
	DefaultPrefix = "oremus_cache_"
	// DefaultTTL is used when Set is called with ttl <= 0.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxSize is the aggregate size budget enforced by cleanup.
	DefaultMaxSize int64 = 50 * 1024 * 1024
	// DefaultCleanupInterval is the period of the background cleanup.
	DefaultCleanupInterval = time.Hour
	// DefaultInitialCleanupDelay postpones the first cleanup after construction.
	DefaultInitialCleanupDelay = 10 * time.Second
	// DefaultCompressionThreshold is the entry size above which values are encoded.
	DefaultCompressionThreshold int64 = 1024
	// DefaultQueryTimeout is the per-operation timeout for storage backends that
	// perform I/O (SQLite, Redis).
	DefaultQueryTimeout = 5 * time.Second
)

// tagPrefix is the reserved key space for tag indexes, below the store prefix.
const tagPrefix = "tag_"

// config holds the resolved configuration for a Store or a Storage backend.
type config struct {
	prefix               string
	defaultTTL           time.Duration
	maxSize              int64
	cleanupInterval      time.Duration
	initialCleanupDelay  time.Duration
	compressionThreshold int64
	queryTimeout         time.Duration
	background           bool
	now                  func() time.Time
	logger               logger.Logger
}

// Option configures a Store or a Storage implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		prefix:               DefaultPrefix,
		defaultTTL:           DefaultTTL,
		maxSize:              DefaultMaxSize,
		cleanupInterval:      DefaultCleanupInterval,
		initialCleanupDelay:  DefaultInitialCleanupDelay,
		compressionThreshold: DefaultCompressionThreshold,
		queryTimeout:         DefaultQueryTimeout,
		background:           true,
		now:                  time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return cfg
}

// WithPrefix sets the namespace prefix for durable keys. Defaults to DefaultPrefix.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithMaxSize sets the aggregate size budget, in estimated bytes.
func WithMaxSize(n int64) Option {
	return func(c *config) { c.maxSize = n }
}

// WithCleanupInterval sets the period of the background cleanup.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// WithInitialCleanupDelay sets the delay before the first background cleanup.
func WithInitialCleanupDelay(d time.Duration) Option {
	return func(c *config) { c.initialCleanupDelay = d }
}

// WithCompressionThreshold sets the entry size above which values are stored encoded.
func WithCompressionThreshold(n int64) Option {
	return func(c *config) { c.compressionThreshold = n }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed storage.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithoutBackgroundCleanup disables the cleanup goroutine. Cleanup can still
// be run explicitly.
func WithoutBackgroundCleanup() Option {
	return func(c *config) { c.background = false }
}

// WithClock overrides the time source used for TTL and access bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithLogger sets the logger swallowed failures are reported to.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.logger = log }
}

// callOptions are the per-call knobs of Get, Set and GetOrSet.
type callOptions struct {
	compress     bool
	persistent   bool
	defaultValue any
	fallback     any
	hasFallback  bool
}

// CallOption tunes a single Get, Set, GetOrSet or Warmup entry.
type CallOption func(*callOptions)

func applyCallOptions(opts []CallOption) callOptions {
	o := callOptions{compress: true, persistent: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDefault is returned by Get on a miss instead of nil.
func WithDefault(v any) CallOption {
	return func(o *callOptions) { o.defaultValue = v }
}

// WithFallback is returned by GetOrSet when the factory fails.
func WithFallback(v any) CallOption {
	return func(o *callOptions) {
		o.fallback = v
		o.hasFallback = true
	}
}

// WithoutCompression stores the value as-is regardless of its size.
func WithoutCompression() CallOption {
	return func(o *callOptions) { o.compress = false }
}

// MemoryOnly skips the durable tier for this write.
func MemoryOnly() CallOption {
	return func(o *callOptions) { o.persistent = false }
}

func persistent() CallOption {
	return func(o *callOptions) { o.persistent = true }
}

// Factory produces a value on a cache miss.
type Factory func(ctx context.Context) (any, error)

// Get retrieves a typed value from the store. Values written in-process are
// returned by type assertion; values promoted from the durable tier are JSON
// and get unmarshalled into T.
func Get[T any](ctx context.Context, s *Store, key string) (bool, T, error) {
	val, found := s.Lookup(ctx, key)
	if !found {
		var zero T
		return false, zero, nil
	}
	typed, err := decodeAs[T](val)
	if err != nil {
		var zero T
		return false, zero, err
	}
	return true, typed, nil
}

// GetOrSet is the typed form of Store.GetOrSet.
func GetOrSet[T any](ctx context.Context, s *Store, key string, factory func(ctx context.Context) (T, error), ttl time.Duration, opts ...CallOption) (T, error) {
	val, err := s.GetOrSet(ctx, key, func(ctx context.Context) (any, error) {
		return factory(ctx)
	}, ttl, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeAs[T](val)
}

func decodeAs[T any](val any) (T, error) {
	var result T
	if val == nil {
		return result, nil
	}
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	raw, ok := val.(json.RawMessage)
	if !ok {
		// a value of another Go type, round trip it through JSON
		buf, err := encodeJSON(val)
		if err != nil {
			return result, errors.Wrapf(err, "cache: cannot convert value of type %T to %T", val, result)
		}
		raw = buf
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, errors.Wrapf(err, "cache: failed to unmarshal value into %T", result)
	}
	return result, nil
}
