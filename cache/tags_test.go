package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidateByTag(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store, _ := newTestStore(t, storage)

	require.True(t, store.SetWithTags(ctx, "k1", "v1", []string{"A"}, time.Minute))
	require.True(t, store.SetWithTags(ctx, "k2", "v2", []string{"A", "B"}, time.Minute))
	require.True(t, store.Set(ctx, "k3", "v3", time.Minute))
	assert.Equal(t, []string{"k1", "k2"}, store.TaggedKeys(ctx, "A"))

	assert.True(t, store.InvalidateByTag(ctx, "A"))
	assert.False(t, store.Exists(ctx, "k1"))
	assert.False(t, store.Exists(ctx, "k2"))
	assert.True(t, store.Exists(ctx, "k3"))

	_, err := storage.GetItem(ctx, DefaultPrefix+"tag_A")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"k2"}, store.TaggedKeys(ctx, "B"))
}

func TestSetWithTagsDeduplicates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryStorage())

	require.True(t, store.SetWithTags(ctx, "k", 1, []string{"A"}, time.Minute))
	require.True(t, store.SetWithTags(ctx, "k", 2, []string{"A"}, time.Minute))
	assert.Equal(t, []string{"k"}, store.TaggedKeys(ctx, "A"))
	assert.Equal(t, 2, store.Get(ctx, "k"))
}

func TestInvalidateUnknownTag(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryStorage())
	assert.True(t, store.InvalidateByTag(ctx, "nothing"))
	assert.Empty(t, store.TaggedKeys(ctx, "nothing"))
}

func TestCorruptTagIndexIsRebuilt(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store, _ := newTestStore(t, storage)

	require.NoError(t, storage.SetItem(ctx, DefaultPrefix+"tag_A", "not json"))
	assert.Empty(t, store.TaggedKeys(ctx, "A"))

	require.True(t, store.SetWithTags(ctx, "k", 1, []string{"A"}, time.Minute))
	assert.Equal(t, []string{"k"}, store.TaggedKeys(ctx, "A"))
}

func TestSetWithTagsStorageFailure(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, brokenStorage{})
	assert.False(t, store.SetWithTags(ctx, "k", 1, []string{"A"}, time.Minute))
	assert.False(t, store.InvalidateByTag(ctx, "A"))
}

func TestAddTags(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryStorage())

	require.True(t, store.Set(ctx, "k", 1, time.Minute))
	assert.True(t, store.AddTags(ctx, "k", []string{"A", "B"}))
	assert.Equal(t, []string{"k"}, store.TaggedKeys(ctx, "A"))
	assert.Equal(t, []string{"k"}, store.TaggedKeys(ctx, "B"))
	assert.True(t, store.AddTags(ctx, "k", nil))
}
