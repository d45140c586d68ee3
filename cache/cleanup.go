package cache

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// CleanupResult summarises one Cleanup pass.
type CleanupResult struct {
	ExpiredMemory  int   `json:"expiredMemory"`
	RemovedDurable int   `json:"removedDurable"`
	Evicted        int   `json:"evicted"`
	SizeBefore     int64 `json:"sizeBefore"`
	SizeAfter      int64 `json:"sizeAfter"`
}

// footprint is the per-key contribution to Size.
type footprint struct {
	key        string
	memory     int64
	durable    int64
	lastAccess time.Time
	tag        bool
}

// Cleanup removes expired memory entries, removes expired or corrupt durable
// entries under the prefix and, when Size exceeds the budget, evicts the least
// recently used keys from both tiers until it fits. Tag indexes are never
// evicted. Failures are logged and the pass continues.
func (s *Store) Cleanup(ctx context.Context) CleanupResult {
	var result CleanupResult
	now := s.cfg.now()

	s.mutex.Lock()
	for key, entry := range s.memory {
		if entry.IsExpired(now) {
			s.removeLocked(key)
			result.ExpiredMemory++
		}
	}
	s.mutex.Unlock()

	result.RemovedDurable = s.cleanupDurable(ctx, now)

	prints, total := s.footprints(ctx, now)
	result.SizeBefore = total
	if total > s.cfg.maxSize {
		result.Evicted, total = s.evict(ctx, prints, total)
	}
	result.SizeAfter = total

	if result.ExpiredMemory+result.RemovedDurable+result.Evicted > 0 {
		s.logger.Debug("cleanup removed %d memory, %d durable, evicted %d (size %d -> %d)",
			result.ExpiredMemory, result.RemovedDurable, result.Evicted, result.SizeBefore, result.SizeAfter)
	}
	return result
}

func (s *Store) cleanupDurable(ctx context.Context, now time.Time) int {
	keys, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		s.logger.Error("cleanup failed to list keys: %v", err)
		return 0
	}
	var stale []string
	for _, dk := range keys {
		if !s.ownsKey(dk) {
			continue
		}
		raw, err := s.storage.GetItem(ctx, dk)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			stale = append(stale, dk)
			continue
		}
		if s.isTagKey(dk) {
			var index tagIndex
			if json.Unmarshal([]byte(raw), &index) != nil {
				stale = append(stale, dk)
			}
			continue
		}
		env, err := parseEnvelope(raw)
		if err != nil || env.expired(now) {
			stale = append(stale, dk)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	if err := s.storage.MultiRemove(ctx, stale); err != nil {
		s.logger.Error("cleanup failed to remove %d entries: %v", len(stale), err)
		return 0
	}
	return len(stale)
}

func (s *Store) isTagKey(durableKey string) bool {
	return strings.HasPrefix(durableKey, s.cfg.prefix+tagPrefix)
}

// Size estimates the footprint of the store: valid memory entries plus every
// readable durable entry under the prefix, at two bytes per character.
func (s *Store) Size(ctx context.Context) int64 {
	_, total := s.footprints(ctx, s.cfg.now())
	return total
}

func (s *Store) footprints(ctx context.Context, now time.Time) (map[string]*footprint, int64) {
	prints := make(map[string]*footprint)
	var total int64

	s.mutex.Lock()
	for key, entry := range s.memory {
		if entry.IsExpired(now) {
			continue
		}
		prints[key] = &footprint{key: key, memory: entry.SizeBytes, lastAccess: entry.LastAccessedAt}
		total += entry.SizeBytes
	}
	s.mutex.Unlock()

	keys, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		s.logger.Warn("size scan failed to list keys: %v", err)
		return prints, total
	}
	for _, dk := range keys {
		if !s.ownsKey(dk) {
			continue
		}
		raw, err := s.storage.GetItem(ctx, dk)
		if err != nil {
			continue
		}
		key := strings.TrimPrefix(dk, s.cfg.prefix)
		fp := prints[key]
		if s.isTagKey(dk) {
			var index tagIndex
			if json.Unmarshal([]byte(raw), &index) != nil {
				continue
			}
			fp = &footprint{key: key, tag: true}
			prints[key] = fp
		} else {
			env, err := parseEnvelope(raw)
			if err != nil {
				continue
			}
			if fp == nil {
				fp = &footprint{key: key, lastAccess: env.createdAt()}
				prints[key] = fp
			}
		}
		fp.durable = estimateSize(raw)
		total += fp.durable
	}
	return prints, total
}

// evict removes least recently used keys until total fits the budget.
func (s *Store) evict(ctx context.Context, prints map[string]*footprint, total int64) (int, int64) {
	candidates := make([]*footprint, 0, len(prints))
	for _, fp := range prints {
		if !fp.tag {
			candidates = append(candidates, fp)
		}
	}
	slices.SortFunc(candidates, func(a, b *footprint) int {
		return cmp.Or(a.lastAccess.Compare(b.lastAccess), cmp.Compare(a.key, b.key))
	})

	evicted := 0
	for _, fp := range candidates {
		if total <= s.cfg.maxSize {
			break
		}
		s.mutex.Lock()
		s.removeLocked(fp.key)
		s.mutex.Unlock()
		total -= fp.memory
		if fp.durable > 0 {
			if err := s.storage.RemoveItem(ctx, s.durableKey(fp.key)); err != nil {
				s.logger.Error("failed to evict %s: %v", fp.key, err)
				continue
			}
			total -= fp.durable
		}
		evicted++
	}
	return evicted, total
}

func (s *Store) run() {
	defer s.waitGroup.Done()
	timer := time.NewTimer(s.cfg.initialCleanupDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
		s.Cleanup(s.ctx)
	}

	interval := s.cfg.cleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(s.ctx)
		}
	}
}
