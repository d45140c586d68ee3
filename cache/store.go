package cache

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/logger"
)

// Store is a two-tier cache: a process-local map of entries in front of a
// durable Storage. Writes go to both tiers, reads consult memory first and
// promote durable hits into memory. Storage failures never surface as errors
// from the read and write paths; they are logged and reported as a miss or a
// false result.
type Store struct {
	cfg     config
	storage Storage
	logger  logger.Logger

	mutex      sync.Mutex
	memory     map[string]*Entry
	memorySize int64
	hits       int64
	misses     int64
	operations int64

	// serializes read-modify-write cycles on tag indexes
	tagMutex sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

// NewStore returns a Store on top of storage. Unless WithoutBackgroundCleanup
// is given, a goroutine runs Cleanup after the initial delay and then on every
// cleanup interval until Close is called or parent is cancelled.
func NewStore(parent context.Context, storage Storage, opts ...Option) *Store {
	cfg := applyOptions(opts)
	if cfg.defaultTTL <= 0 {
		cfg.defaultTTL = DefaultTTL
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Store{
		cfg:     cfg,
		storage: storage,
		logger:  cfg.logger.WithPrefix("[cache]"),
		memory:  make(map[string]*Entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.background {
		s.waitGroup.Add(1)
		go s.run()
	}
	return s
}

func (s *Store) durableKey(key string) string {
	return s.cfg.prefix + key
}

func (s *Store) ownsKey(durableKey string) bool {
	return strings.HasPrefix(durableKey, s.cfg.prefix)
}

// putLocked replaces the memory entry for key, keeping memorySize in step.
func (s *Store) putLocked(key string, entry *Entry) {
	if old, ok := s.memory[key]; ok {
		s.memorySize -= old.SizeBytes
	}
	s.memory[key] = entry
	s.memorySize += entry.SizeBytes
}

func (s *Store) removeLocked(key string) {
	if old, ok := s.memory[key]; ok {
		s.memorySize -= old.SizeBytes
		delete(s.memory, key)
	}
}

// Lookup returns the value for key and whether it was found. Every call
// counts as one operation in Stats.
func (s *Store) Lookup(ctx context.Context, key string) (any, bool) {
	now := s.cfg.now()

	s.mutex.Lock()
	s.operations++
	if entry, ok := s.memory[key]; ok && entry.IsValid(now) {
		val, err := entry.read(now)
		if err == nil {
			s.hits++
			s.mutex.Unlock()
			return val, true
		}
		s.removeLocked(key)
		s.logger.Warn("dropping unreadable memory entry %s: %v", key, err)
	}
	s.mutex.Unlock()

	val, found := s.readDurable(ctx, key, now)

	s.mutex.Lock()
	if found {
		s.hits++
	} else {
		s.misses++
	}
	s.mutex.Unlock()
	return val, found
}

func (s *Store) readDurable(ctx context.Context, key string, now time.Time) (any, bool) {
	raw, err := s.storage.GetItem(ctx, s.durableKey(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to read %s: %v", key, err)
		}
		return nil, false
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		s.logger.Warn("ignoring %s: %v", key, err)
		return nil, false
	}
	if env.expired(now) {
		if err := s.storage.RemoveItem(ctx, s.durableKey(key)); err != nil {
			s.logger.Warn("failed to remove expired %s: %v", key, err)
		}
		return nil, false
	}
	var val any
	data, err := env.value()
	if err == nil {
		val, err = decodeJSON(data)
	}
	if err != nil {
		s.logger.Warn("ignoring %s: %v", key, err)
		return nil, false
	}

	entry, err := NewEntry(val, env.ttl(), env.createdAt())
	if err != nil {
		return val, true
	}
	entry.Access(now)
	s.mutex.Lock()
	// a concurrent Set may have landed while storage was being read
	if current, ok := s.memory[key]; !ok || current.IsExpired(now) {
		s.putLocked(key, entry)
	}
	s.mutex.Unlock()
	return val, true
}

// Get returns the cached value for key, or the WithDefault value (nil when
// not given) on a miss.
func (s *Store) Get(ctx context.Context, key string, opts ...CallOption) any {
	o := applyCallOptions(opts)
	if val, found := s.Lookup(ctx, key); found {
		return val
	}
	return o.defaultValue
}

// Set stores value under key in memory and, unless MemoryOnly is given, in
// durable storage. A ttl <= 0 selects the default TTL. Values whose estimated
// size exceeds the compression threshold are stored encoded unless
// WithoutCompression is given. It reports whether every requested tier
// accepted the write.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration, opts ...CallOption) bool {
	o := applyCallOptions(opts)
	if ttl <= 0 {
		ttl = s.cfg.defaultTTL
	}
	entry, err := NewEntry(value, ttl, s.cfg.now())
	if err != nil {
		s.logger.Error("failed to set %s: %v", key, err)
		return false
	}
	if o.compress && entry.SizeBytes > s.cfg.compressionThreshold {
		encoded, err := compress(value)
		if err == nil {
			err = entry.Replace(encoded, true)
		}
		if err != nil {
			s.logger.Error("failed to compress %s: %v", key, err)
			return false
		}
		entry.original = value
	}

	s.mutex.Lock()
	s.putLocked(key, entry)
	s.mutex.Unlock()

	if !o.persistent {
		return true
	}
	if err := s.writeEntry(ctx, key, entry); err != nil {
		s.logger.Error("failed to persist %s: %v", key, err)
		return false
	}
	return true
}

func (s *Store) writeEntry(ctx context.Context, key string, entry *Entry) error {
	env, err := newEnvelope(entry)
	if err != nil {
		return err
	}
	raw, err := env.marshal()
	if err != nil {
		return err
	}
	return s.storage.SetItem(ctx, s.durableKey(key), raw)
}

// Delete removes key from both tiers. It reports false only when durable
// storage failed; the memory entry is gone either way.
func (s *Store) Delete(ctx context.Context, key string) bool {
	s.mutex.Lock()
	s.removeLocked(key)
	s.mutex.Unlock()
	if err := s.storage.RemoveItem(ctx, s.durableKey(key)); err != nil {
		s.logger.Error("failed to delete %s: %v", key, err)
		return false
	}
	return true
}

// Clear drops all memory entries, removes every durable key under the prefix
// (tag indexes included) and resets the statistics.
func (s *Store) Clear(ctx context.Context) bool {
	s.mutex.Lock()
	s.memory = make(map[string]*Entry)
	s.memorySize = 0
	s.hits, s.misses, s.operations = 0, 0, 0
	s.mutex.Unlock()

	keys, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		s.logger.Error("failed to list keys for clear: %v", err)
		return false
	}
	owned := slices.DeleteFunc(keys, func(k string) bool { return !s.ownsKey(k) })
	if err := s.storage.MultiRemove(ctx, owned); err != nil {
		s.logger.Error("failed to clear %d keys: %v", len(owned), err)
		return false
	}
	return true
}

// IsValid reports whether key holds an unexpired entry. A memory entry is
// authoritative when present; otherwise the durable envelope is checked
// without promoting it.
func (s *Store) IsValid(ctx context.Context, key string) bool {
	now := s.cfg.now()
	s.mutex.Lock()
	entry, ok := s.memory[key]
	valid := ok && entry.IsValid(now)
	s.mutex.Unlock()
	if ok {
		return valid
	}
	raw, err := s.storage.GetItem(ctx, s.durableKey(key))
	if err != nil {
		return false
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return false
	}
	return !env.expired(now)
}

// RemainingTTL returns how long key has left before it expires, zero once it
// has, and false when key is in neither tier. Like IsValid it does not promote.
func (s *Store) RemainingTTL(ctx context.Context, key string) (time.Duration, bool) {
	now := s.cfg.now()
	s.mutex.Lock()
	entry, ok := s.memory[key]
	var remaining time.Duration
	if ok {
		remaining = entry.RemainingTTL(now)
	}
	s.mutex.Unlock()
	if ok {
		return remaining, true
	}
	raw, err := s.storage.GetItem(ctx, s.durableKey(key))
	if err != nil {
		return 0, false
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return 0, false
	}
	durable := Entry{CreatedAt: env.createdAt(), TTL: env.ttl()}
	return durable.RemainingTTL(now), true
}

// Exists reports whether key is present in either tier, expired or not.
func (s *Store) Exists(ctx context.Context, key string) bool {
	s.mutex.Lock()
	_, ok := s.memory[key]
	s.mutex.Unlock()
	if ok {
		return true
	}
	_, err := s.storage.GetItem(ctx, s.durableKey(key))
	return err == nil
}

// Keys lists the keys currently held in either tier, without the prefix and
// excluding tag indexes.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	s.mutex.Lock()
	for key := range s.memory {
		seen[key] = struct{}{}
	}
	s.mutex.Unlock()

	durable, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, dk := range durable {
		if !s.ownsKey(dk) {
			continue
		}
		key := strings.TrimPrefix(dk, s.cfg.prefix)
		if strings.HasPrefix(key, tagPrefix) {
			continue
		}
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

// GetOrSet returns the cached value for key, or calls factory, stores its
// result and returns it. A factory error is returned unless WithFallback was
// given, in which case the fallback is returned and nothing is stored.
// Concurrent callers for the same missing key each invoke factory.
func (s *Store) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, opts ...CallOption) (any, error) {
	val, _, err := s.getOrSet(ctx, key, factory, ttl, opts...)
	return val, err
}

// getOrSet also reports whether the returned value is cached: a hit, or a
// fetched value every requested tier accepted.
func (s *Store) getOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, opts ...CallOption) (any, bool, error) {
	o := applyCallOptions(opts)
	if val, found := s.Lookup(ctx, key); found && val != nil {
		return val, true, nil
	}
	val, err := factory(ctx)
	if err != nil {
		if o.hasFallback {
			s.logger.Warn("factory for %s failed, using fallback: %v", key, err)
			return o.fallback, false, nil
		}
		return nil, false, err
	}
	return val, s.Set(ctx, key, val, ttl, opts...), nil
}

// Stats is a snapshot of the hit counters and the memory tier.
type Stats struct {
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Operations    int64  `json:"operations"`
	MemoryEntries int    `json:"memoryEntries"`
	MemorySize    int64  `json:"memorySize"`
	HitRate       string `json:"hitRate"`
}

// Ratio is hits over operations, zero when nothing was looked up yet.
func (st Stats) Ratio() float64 {
	if st.Operations == 0 {
		return 0
	}
	return float64(st.Hits) / float64(st.Operations)
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	s.mutex.Lock()
	st := Stats{
		Hits:          s.hits,
		Misses:        s.misses,
		Operations:    s.operations,
		MemoryEntries: len(s.memory),
		MemorySize:    s.memorySize,
	}
	s.mutex.Unlock()
	if st.Operations == 0 {
		st.HitRate = "0%"
	} else {
		st.HitRate = fmt.Sprintf("%.2f%%", st.Ratio()*100)
	}
	return st
}

// Close stops the background cleanup. The Storage is owned by the caller and
// is left open.
func (s *Store) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
	})
	return nil
}
