package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/cache"
	"github.com/oremus/go-common/config"
	"github.com/oremus/go-common/logger"
	"github.com/oremus/go-common/tui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cli runs commands against one shared storage, the way successive
// invocations share a database file.
type cli struct {
	t       *testing.T
	storage cache.Storage
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("OREMUS_LOG_LEVEL", "error")
	t.Setenv("OREMUS_SUPABASE_URL", "")
	t.Setenv("OREMUS_SUPABASE_KEY", "")
	return &cli{t: t, storage: cache.NewMemoryStorage()}
}

func (c *cli) run(args ...string) (string, error) {
	var buf bytes.Buffer
	cmd := newRootCommand(tui.Plain(&buf), func(context.Context, *config.Config, logger.Logger) (cache.Storage, error) {
		return c.storage, nil
	})
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func TestSetAndGet(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("set", "user_profile_u1", `{"full_name":"Anna","total_candles":3}`, "--ttl", "10m")
	assert.Contains(t, out, "stored user_profile_u1 for 10m0s")

	out = c.mustRun("get", "user_profile_u1")
	assert.JSONEq(t, `{"full_name":"Anna","total_candles":3}`, out)

	c.mustRun("set", "greeting", "Szczęść Boże")
	out = c.mustRun("get", "greeting")
	assert.Equal(t, "\"Szczęść Boże\"\n", out)
}

func TestSetUsesDefaultTTL(t *testing.T) {
	c := newCLI(t)
	t.Setenv("OREMUS_CACHE_DEFAULT_TTL", "2m")
	out := c.mustRun("set", "k", "1")
	assert.Contains(t, out, "for 2m0s")
}

func TestSetAcceptsDays(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("set", "k", "1", "--ttl", "1d12h")
	assert.Contains(t, out, "for 36h0m0s")
}

func TestSetRejectsBadTTL(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("set", "k", "1", "--ttl", "soon")
	assert.ErrorContains(t, err, "--ttl")
}

func TestGetMissing(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("get", "nope")
	assert.ErrorContains(t, err, "nope: not found")
}

func TestDelete(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "a", "1")
	c.mustRun("set", "b", "2")
	out := c.mustRun("delete", "a", "b")
	assert.Contains(t, out, "deleted a")
	assert.Contains(t, out, "deleted b")
	assert.Contains(t, c.mustRun("keys"), "no keys")
}

func TestTagsAndInvalidate(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "public_intentions_20", "[]", "--tag", "public_intentions")
	c.mustRun("set", "public_intentions_50", "[]", "--tag", "public_intentions")
	c.mustRun("set", "churches_all_10", "[]")

	assert.Equal(t, "public_intentions_20\npublic_intentions_50\n", c.mustRun("keys", "--tag", "public_intentions"))

	out := c.mustRun("invalidate-tag", "public_intentions")
	assert.Contains(t, out, "invalidated 2 keys tagged public_intentions")
	assert.Equal(t, "churches_all_10\n", c.mustRun("keys"))
}

func TestKeysValid(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "daily_readings", "[]", "--ttl", "2h")
	c.mustRun("set", "active_prayer_count", "4", "--ttl", "1ms")
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, "active_prayer_count (expired)\ndaily_readings (expires in 2h0m0s)\n", c.mustRun("keys", "--valid"))
}

func TestClear(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "a", "1", "--tag", "t")
	out := c.mustRun("clear", "--yes")
	assert.Contains(t, out, "cleared oremus_cache_")

	keys, err := c.storage.GetAllKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPrefixFlag(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "a", "1", "--prefix", "other_")
	assert.Contains(t, c.mustRun("keys"), "no keys")
	assert.Equal(t, "a\n", c.mustRun("keys", "--prefix", "other_"))
}

func TestStatsAndCleanup(t *testing.T) {
	c := newCLI(t)
	c.mustRun("set", "a", `"value"`)
	c.mustRun("set", "b", `"value"`)

	out := c.mustRun("stats")
	assert.Contains(t, out, "BACKEND\tPREFIX\tENTRIES\tSIZE\tBUDGET\n")
	assert.Contains(t, out, "\toremus_cache_\t2\t")

	out = c.mustRun("cleanup")
	assert.Contains(t, out, "EXPIRED\tREMOVED\tEVICTED")
}

func TestUnknownBackend(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("keys", "--backend", "etcd")
	assert.ErrorContains(t, err, "unknown cache backend")
}

func TestStorageOpenFailure(t *testing.T) {
	newCLI(t)
	cmd := newRootCommand(tui.Plain(io.Discard), func(context.Context, *config.Config, logger.Logger) (cache.Storage, error) {
		return nil, errors.New("disk full")
	})
	cmd.SetArgs([]string{"keys"})
	err := cmd.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "failed to open sqlite storage")
}

func TestWarmupRequiresSupabase(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("warmup")
	assert.ErrorContains(t, err, "OREMUS_SUPABASE_URL")
}

func TestWarmup(t *testing.T) {
	c := newCLI(t)
	mux := http.NewServeMux()
	mux.HandleFunc("HEAD /rest/v1/prayer_sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "0-2/3")
	})
	mux.HandleFunc("GET /rest/v1/candles", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"c1","location":"Kraków","is_lit":true,"total_lights":1}]`))
	})
	mux.HandleFunc("GET /rest/v1/churches", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"ch1","name":"Mariacki","city":"Kraków","is_active":true}]`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Setenv("OREMUS_SUPABASE_URL", server.URL)
	t.Setenv("OREMUS_SUPABASE_KEY", "anon-key")
	t.Setenv("OREMUS_RETRY_DELAY", "1ms")

	out := c.mustRun("warmup")
	assert.Contains(t, out, "cache warmed")
	assert.Equal(t, "active_candle_locations\nactive_prayer_count\nchurches_all_10\n", c.mustRun("keys"))
	assert.Equal(t, "3\n", c.mustRun("get", "active_prayer_count"))
}
