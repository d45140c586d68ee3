package config

import (
	"context"
	"io/fs"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/oremus/go-common/cache"
	"github.com/oremus/go-common/logger"
	"github.com/oremus/go-common/resilience"
	"github.com/redis/go-redis/v9"
)

// Prefix is prepended to every variable name, e.g. OREMUS_CACHE_BACKEND.
const Prefix = "OREMUS"

// Storage backends accepted by OREMUS_CACHE_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Cache     CacheConfig    `envconfig:"CACHE"`
	Redis     RedisConfig    `envconfig:"REDIS"`
	Retry     RetryConfig    `envconfig:"RETRY"`
	Supabase  SupabaseConfig `envconfig:"SUPABASE"`
	LogLevel  string         `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string         `envconfig:"LOG_FORMAT" default:"console"`
}

type CacheConfig struct {
	Prefix               string        `envconfig:"PREFIX" default:"oremus_cache_"`
	DefaultTTL           time.Duration `envconfig:"DEFAULT_TTL" default:"5m"`
	MaxSize              int64         `envconfig:"MAX_SIZE" default:"52428800"`
	CleanupInterval      time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	InitialCleanupDelay  time.Duration `envconfig:"INITIAL_CLEANUP_DELAY" default:"10s"`
	CompressionThreshold int64         `envconfig:"COMPRESSION_THRESHOLD" default:"1024"`
	QueryTimeout         time.Duration `envconfig:"QUERY_TIMEOUT" default:"5s"`
	Backend              string        `envconfig:"BACKEND" default:"sqlite"`
	SQLitePath           string        `envconfig:"SQLITE_PATH" default:"oremus-cache.db"`
}

type RedisConfig struct {
	URL string `envconfig:"URL" default:"redis://localhost:6379/0"`
}

// RetryConfig covers remote calls. BreakerFailures opens the circuit after
// that many consecutive failed attempts; zero disables the breaker.
type RetryConfig struct {
	Attempts        int           `envconfig:"ATTEMPTS" default:"3"`
	Delay           time.Duration `envconfig:"DELAY" default:"1s"`
	BreakerFailures int           `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerCooldown time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
}

type SupabaseConfig struct {
	URL string `envconfig:"URL"`
	Key string `envconfig:"KEY"`
}

// Load reads the configuration from the environment. Variables found in the
// given files are added first without overriding what is already set; with
// no files an optional .env in the working directory is used.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, "config: failed to load .env")
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, errors.Wrapf(err, "config: failed to load %s", strings.Join(files, ", "))
	}
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: invalid environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values envconfig cannot.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return errors.Newf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.MaxSize <= 0 {
		return errors.New("config: cache max size must be positive")
	}
	if c.Retry.Attempts < 1 {
		return errors.New("config: retry attempts must be at least 1")
	}
	if c.Retry.Delay < 0 {
		return errors.New("config: retry delay cannot be negative")
	}
	if c.Retry.BreakerFailures < 0 {
		return errors.New("config: breaker failures cannot be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return errors.Newf("config: unknown log format %q", c.LogFormat)
	}
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return errors.Newf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logger.LogLevel {
	level, ok := logger.ParseLevel(c.LogLevel)
	if !ok {
		return logger.LevelInfo
	}
	return level
}

// HasSupabase reports whether a remote project is configured.
func (c *Config) HasSupabase() bool {
	return c.Supabase.URL != "" && c.Supabase.Key != ""
}

// CacheOptions translates the cache settings into store options. Extra
// options are appended and win over the configured ones.
func (c *Config) CacheOptions(log logger.Logger, extra ...cache.Option) []cache.Option {
	opts := []cache.Option{
		cache.WithPrefix(c.Cache.Prefix),
		cache.WithDefaultTTL(c.Cache.DefaultTTL),
		cache.WithMaxSize(c.Cache.MaxSize),
		cache.WithCleanupInterval(c.Cache.CleanupInterval),
		cache.WithInitialCleanupDelay(c.Cache.InitialCleanupDelay),
		cache.WithCompressionThreshold(c.Cache.CompressionThreshold),
		cache.WithQueryTimeout(c.Cache.QueryTimeout),
	}
	if log != nil {
		opts = append(opts, cache.WithLogger(log))
	}
	return append(opts, extra...)
}

// RetryConfig translates the retry settings. Each call builds a fresh
// circuit breaker, so share the result between the clients of one backend.
func (c *Config) RetryConfig(log logger.Logger) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = c.Retry.Attempts
	rc.BaseDelay = c.Retry.Delay
	rc.Logger = log
	if c.Retry.BreakerFailures > 0 {
		bc := resilience.DefaultCircuitBreakerConfig()
		bc.Name = "supabase"
		bc.MaxFailures = c.Retry.BreakerFailures
		bc.Timeout = c.Retry.BreakerCooldown
		bc.Logger = log
		rc.Breaker = resilience.NewCircuitBreaker(bc)
	}
	return rc
}

// OpenStorage opens the durable tier selected by the cache backend. The
// returned storage owns any connection it opened and releases it on Close.
func (c *Config) OpenStorage(ctx context.Context, log logger.Logger) (cache.Storage, error) {
	opts := []cache.Option{cache.WithQueryTimeout(c.Cache.QueryTimeout)}
	if log != nil {
		opts = append(opts, cache.WithLogger(log))
	}
	switch c.Cache.Backend {
	case BackendMemory:
		return cache.NewMemoryStorage(), nil
	case BackendSQLite:
		return cache.NewSQLiteStorage(ctx, c.Cache.SQLitePath, opts...)
	case BackendRedis:
		ropts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "config: invalid redis url")
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "config: failed to reach redis at %s", ropts.Addr)
		}
		return &ownedRedis{Storage: cache.NewRedisStorage(client, opts...), client: client}, nil
	}
	return nil, errors.Newf("config: unknown cache backend %q", c.Cache.Backend)
}

type ownedRedis struct {
	cache.Storage
	client *redis.Client
}

func (o *ownedRedis) Close() error {
	return o.client.Close()
}
