package cache

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

func (s *Store) tagKey(tag string) string {
	return s.durableKey(tagPrefix + tag)
}

// TaggedKeys returns the keys recorded under tag. A missing or unreadable
// index yields an empty list.
func (s *Store) TaggedKeys(ctx context.Context, tag string) []string {
	keys, err := s.readTag(ctx, tag)
	if err != nil {
		s.logger.Warn("failed to read tag %s: %v", tag, err)
		return nil
	}
	return keys
}

func (s *Store) readTag(ctx context.Context, tag string) ([]string, error) {
	raw, err := s.storage.GetItem(ctx, s.tagKey(tag))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index tagIndex
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return nil, errors.Wrapf(err, "cache: corrupt index for tag %q", tag)
	}
	return index.Keys, nil
}

func (s *Store) addToTag(ctx context.Context, tag string, key string) error {
	s.tagMutex.Lock()
	defer s.tagMutex.Unlock()
	keys, err := s.readTag(ctx, tag)
	if err != nil {
		// an unreadable index is rebuilt from scratch
		s.logger.Warn("resetting tag %s: %v", tag, err)
		keys = nil
	}
	if slices.Contains(keys, key) {
		return nil
	}
	buf, err := json.Marshal(tagIndex{Keys: append(keys, key)})
	if err != nil {
		return errors.Wrap(err, "cache: failed to encode tag index")
	}
	return s.storage.SetItem(ctx, s.tagKey(tag), string(buf))
}

// SetWithTags stores value like Set and records key in the index of every
// tag. It reports false if the write or any index update failed.
func (s *Store) SetWithTags(ctx context.Context, key string, value any, tags []string, ttl time.Duration, opts ...CallOption) bool {
	if !s.Set(ctx, key, value, ttl, opts...) {
		return false
	}
	return s.AddTags(ctx, key, tags)
}

// AddTags records an already stored key under each tag.
func (s *Store) AddTags(ctx context.Context, key string, tags []string) bool {
	ok := true
	for _, tag := range tags {
		if err := s.addToTag(ctx, tag, key); err != nil {
			s.logger.Error("failed to tag %s with %s: %v", key, tag, err)
			ok = false
		}
	}
	return ok
}

// InvalidateByTag deletes every key recorded under tag and then the index
// itself. Keys are deleted concurrently.
func (s *Store) InvalidateByTag(ctx context.Context, tag string) bool {
	s.tagMutex.Lock()
	defer s.tagMutex.Unlock()
	keys, err := s.readTag(ctx, tag)
	if err != nil {
		s.logger.Warn("invalidating unreadable tag %s: %v", tag, err)
	}

	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			if !s.Delete(ctx, key) {
				return errors.Newf("cache: failed to delete %q", key)
			}
			return nil
		})
	}
	ok := true
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to invalidate tag %s: %v", tag, err)
		ok = false
	}
	if err := s.storage.RemoveItem(ctx, s.tagKey(tag)); err != nil {
		s.logger.Error("failed to remove tag %s: %v", tag, err)
		ok = false
	}
	return ok
}
