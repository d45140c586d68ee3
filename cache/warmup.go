package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// WarmupEntry describes one key to preload.
type WarmupEntry struct {
	Factory Factory
	TTL     time.Duration // <= 0 selects the store default
	Options []CallOption
}

// Warmup runs GetOrSet for every entry concurrently, so keys that are already
// cached and unexpired are left alone and their factories are not called.
// Fetched values are always written to durable storage. It reports true only
// if every key ends up cached.
func (s *Store) Warmup(ctx context.Context, entries map[string]WarmupEntry) bool {
	var g errgroup.Group
	for key, entry := range entries {
		g.Go(func() error {
			opts := append(append([]CallOption(nil), entry.Options...), persistent())
			_, cached, err := s.getOrSet(ctx, key, entry.Factory, entry.TTL, opts...)
			if err != nil {
				s.logger.Warn("warmup of %s failed: %v", key, err)
				return errors.Wrapf(err, "cache: warmup of %q", key)
			}
			if !cached {
				return errors.Newf("cache: warmup of %q could not be stored", key)
			}
			return nil
		})
	}
	return g.Wait() == nil
}
