package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 500

type redisStorage struct {
	client *redis.Client
	cfg    config
}

var _ Storage = (*redisStorage)(nil)

// NewRedisStorage returns a Storage backed by Redis string keys.
// The caller owns the redis.Client lifecycle — Close is a no-op on the client.
func NewRedisStorage(client *redis.Client, opts ...Option) Storage {
	return &redisStorage{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (r *redisStorage) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.cfg.queryTimeout)
}

func (r *redisStorage) GetItem(ctx context.Context, key string) (string, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	val, err := r.client.Get(qctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "cache: failed to read %q", key)
	}
	return val, nil
}

func (r *redisStorage) SetItem(ctx context.Context, key string, value string) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if err := r.client.Set(qctx, key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "cache: failed to write %q", key)
	}
	return nil
}

func (r *redisStorage) RemoveItem(ctx context.Context, key string) error {
	return r.MultiRemove(ctx, []string{key})
}

func (r *redisStorage) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if err := r.client.Del(qctx, keys...).Err(); err != nil {
		return errors.Wrapf(err, "cache: failed to remove %d keys", len(keys))
	}
	return nil
}

func (r *redisStorage) GetAllKeys(ctx context.Context) ([]string, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	var keys []string
	iter := r.client.Scan(qctx, 0, "*", scanBatch).Iterator()
	for iter.Next(qctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "cache: failed to scan keys")
	}
	return keys, nil
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (r *redisStorage) Close() error {
	return nil
}
