package cache

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStorage records how often each durable operation is called.
type countingStorage struct {
	Storage
	gets atomic.Int64
	sets atomic.Int64
}

func (c *countingStorage) GetItem(ctx context.Context, key string) (string, error) {
	c.gets.Add(1)
	return c.Storage.GetItem(ctx, key)
}

func (c *countingStorage) SetItem(ctx context.Context, key string, value string) error {
	c.sets.Add(1)
	return c.Storage.SetItem(ctx, key, value)
}

var errBroken = errors.New("storage offline")

// brokenStorage fails every operation.
type brokenStorage struct{}

func (brokenStorage) GetItem(context.Context, string) (string, error) { return "", errBroken }
func (brokenStorage) SetItem(context.Context, string, string) error   { return errBroken }
func (brokenStorage) RemoveItem(context.Context, string) error        { return errBroken }
func (brokenStorage) MultiRemove(context.Context, []string) error     { return errBroken }
func (brokenStorage) GetAllKeys(context.Context) ([]string, error)    { return nil, errBroken }
func (brokenStorage) Close() error                                    { return nil }

func testStorageContract(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetItem(ctx, "a", `{"v":1}`))
	require.NoError(t, s.SetItem(ctx, "b", "two"))
	require.NoError(t, s.SetItem(ctx, "c", "three"))

	val, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, val)

	require.NoError(t, s.SetItem(ctx, "a", "replaced"))
	val, err = s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "replaced", val)

	keys, err := s.GetAllKeys(ctx)
	require.NoError(t, err)
	slices.Sort(keys)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, s.RemoveItem(ctx, "a"))
	require.NoError(t, s.RemoveItem(ctx, "a"), "removing an absent key is not an error")
	_, err = s.GetItem(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.MultiRemove(ctx, []string{"b", "c", "nope"}))
	require.NoError(t, s.MultiRemove(ctx, nil))
	keys, err = s.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.NoError(t, s.Close())
}

func TestMemoryStorage(t *testing.T) {
	testStorageContract(t, NewMemoryStorage())
}

func TestSQLiteStorageInMemory(t *testing.T) {
	s, err := NewSQLiteStorage(context.Background(), ":memory:")
	require.NoError(t, err)
	testStorageContract(t, s)
}

func TestSQLiteStorageFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := NewSQLiteStorage(ctx, path, WithQueryTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, s.SetItem(ctx, "k", "v"))
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "close is idempotent")

	s, err = NewSQLiteStorage(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	val, err := s.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestSQLiteStorageBackingStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStorage(ctx, "")
	require.NoError(t, err)
	defer s.Close()

	store := NewStore(ctx, s, WithoutBackgroundCleanup())
	defer store.Close()
	require.True(t, store.Set(ctx, "greeting", "hello", time.Minute))

	fresh := NewStore(ctx, s, WithoutBackgroundCleanup())
	defer fresh.Close()
	found, val, err := Get[string](ctx, fresh, "greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", val)
}
