package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryEpoch = time.Unix(1700000000, 0)

func TestNewEntry(t *testing.T) {
	entry, err := NewEntry(map[string]any{"name": "Rosary"}, time.Second, entryEpoch)
	require.NoError(t, err)

	assert.Equal(t, 1, entry.AccessCount)
	assert.Equal(t, entryEpoch, entry.CreatedAt)
	assert.Equal(t, entry.CreatedAt, entry.LastAccessedAt)
	assert.Equal(t, time.Second, entry.TTL)
	assert.False(t, entry.Compressed)
	// {"name":"Rosary"} is 17 UTF-16 code units
	assert.Equal(t, int64(34), entry.SizeBytes)
}

func TestNewEntryUnencodable(t *testing.T) {
	_, err := NewEntry(func() {}, time.Second, entryEpoch)
	assert.Error(t, err)
}

func TestEntryExpiry(t *testing.T) {
	entry, err := NewEntry("v", time.Second, entryEpoch)
	require.NoError(t, err)

	tests := []struct {
		name      string
		elapsed   time.Duration
		expired   bool
		remaining time.Duration
	}{
		{"fresh", 0, false, time.Second},
		{"part way", 300 * time.Millisecond, false, 700 * time.Millisecond},
		{"at the ttl", time.Second, false, 0},
		{"just past the ttl", time.Second + time.Millisecond, true, 0},
		{"long gone", 2 * time.Second, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := entryEpoch.Add(tt.elapsed)
			assert.Equal(t, tt.expired, entry.IsExpired(now))
			assert.Equal(t, !tt.expired, entry.IsValid(now))
			assert.Equal(t, tt.remaining, entry.RemainingTTL(now))
		})
	}
}

func TestEntryAccess(t *testing.T) {
	entry, err := NewEntry("Angelus", time.Minute, entryEpoch)
	require.NoError(t, err)

	later := entryEpoch.Add(10 * time.Second)
	assert.Equal(t, "Angelus", entry.Access(later))
	assert.Equal(t, "Angelus", entry.Access(later.Add(time.Second)))
	assert.Equal(t, 3, entry.AccessCount)
	assert.Equal(t, later.Add(time.Second), entry.LastAccessedAt)
	assert.Equal(t, entryEpoch, entry.CreatedAt, "access does not extend the lifetime")
}

func TestEntryReplace(t *testing.T) {
	value := strings.Repeat("x", 100)
	entry, err := NewEntry(value, time.Minute, entryEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(204), entry.SizeBytes)

	encoded, err := compress(value)
	require.NoError(t, err)
	require.NoError(t, entry.Replace(encoded, true))
	assert.True(t, entry.Compressed)
	assert.Equal(t, encoded, entry.Value)
	assert.Equal(t, int64(2*(len(encoded)+2)), entry.SizeBytes)

	assert.Error(t, entry.Replace(make(chan int), false))
	assert.Equal(t, encoded, entry.Value, "a failed replace keeps the old payload")
}

func TestEntryReadDecodesCompressedPayload(t *testing.T) {
	encoded, err := compress(map[string]any{"count": 3})
	require.NoError(t, err)
	entry, err := NewEntry(nil, time.Minute, entryEpoch)
	require.NoError(t, err)
	require.NoError(t, entry.Replace(encoded, true))

	val, err := entry.read(entryEpoch)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(3)}, val)

	entry.original = map[string]any{"count": 3}
	val, err = entry.read(entryEpoch)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 3}, val)
}

func TestEstimateSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"abc", 6},
		{"héllo", 10},
		{"🙏", 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, estimateSize(tt.in), tt.in)
	}
}
