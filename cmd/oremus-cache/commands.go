package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/cache"
	"github.com/oremus/go-common/env"
	"github.com/oremus/go-common/tui"
	"github.com/spf13/cobra"
)

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print a cached value as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.newStore(cmd.Context(), false)
			val := store.Get(cmd.Context(), args[0])
			if val == nil {
				return errors.Newf("%s: not found", args[0])
			}
			buf, err := json.MarshalIndent(val, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to encode value")
			}
			fmt.Fprintln(a.out.Writer(), string(buf))
			return nil
		},
	}
}

// parseValue accepts any JSON document and treats anything else as a string.
func parseValue(raw string) any {
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return raw
	}
	return val
}

func (a *app) setCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a value, given as JSON or a plain string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := env.DurationFlagOrEnv(cmd, "ttl", "OREMUS_TTL", 0)
			if err != nil {
				return err
			}
			tags, _ := cmd.Flags().GetStringSlice("tag")
			var opts []cache.CallOption
			if noCompress, _ := cmd.Flags().GetBool("no-compress"); noCompress {
				opts = append(opts, cache.WithoutCompression())
			}
			store := a.newStore(cmd.Context(), false)
			if !store.SetWithTags(cmd.Context(), args[0], parseValue(args[1]), tags, ttl, opts...) {
				return errors.Newf("failed to store %s", args[0])
			}
			if ttl <= 0 {
				ttl = a.config.Cache.DefaultTTL
			}
			a.out.Success("stored %s for %s", args[0], ttl)
			return nil
		},
	}
	cmd.Flags().String("ttl", "", "time to live, e.g. 90s, 5m or 1d12h (default from OREMUS_CACHE_DEFAULT_TTL)")
	cmd.Flags().StringSlice("tag", nil, "record the key under this tag (repeatable)")
	cmd.Flags().Bool("no-compress", false, "store the value as-is regardless of size")
	return cmd
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY...",
		Short: "Remove keys from the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.newStore(cmd.Context(), false)
			var failed int
			for _, key := range args {
				if store.Delete(cmd.Context(), key) {
					a.out.Success("deleted %s", key)
				} else {
					a.out.Warning("failed to delete %s", key)
					failed++
				}
			}
			if failed > 0 {
				return errors.Newf("%d of %d deletes failed", failed, len(args))
			}
			return nil
		},
	}
}

func (a *app) clearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key under the prefix, tag indexes included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				ok, err := a.out.Confirm(fmt.Sprintf("Remove every cached key under %s?", a.config.Cache.Prefix), false)
				if errors.Is(err, tui.ErrNotInteractive) {
					return errors.New("refusing to clear without --yes")
				}
				if err != nil {
					return err
				}
				if !ok {
					a.out.Muted("nothing cleared")
					return nil
				}
			}
			store := a.newStore(cmd.Context(), false)
			if !store.Clear(cmd.Context()) {
				return errors.New("failed to clear the cache")
			}
			a.out.Success("cleared %s", a.config.Cache.Prefix)
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) invalidateTagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate-tag TAG",
		Short: "Remove every key recorded under a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.newStore(cmd.Context(), false)
			keys := store.TaggedKeys(cmd.Context(), args[0])
			if !store.InvalidateByTag(cmd.Context(), args[0]) {
				return errors.Newf("failed to invalidate tag %s", args[0])
			}
			a.out.Success("invalidated %d keys tagged %s", len(keys), args[0])
			return nil
		},
	}
}

func (a *app) cleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop expired entries and evict down to the size budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.newStore(cmd.Context(), false)
			var result cache.CleanupResult
			if err := a.out.Spin(cmd.Context(), "Cleaning up...", func() {
				result = store.Cleanup(cmd.Context())
			}); err != nil {
				return err
			}
			a.out.Table([]string{"EXPIRED", "REMOVED", "EVICTED", "SIZE BEFORE", "SIZE AFTER"}, [][]string{{
				strconv.Itoa(result.ExpiredMemory),
				strconv.Itoa(result.RemovedDurable),
				strconv.Itoa(result.Evicted),
				strconv.FormatInt(result.SizeBefore, 10),
				strconv.FormatInt(result.SizeAfter, 10),
			}})
			return nil
		},
	}
}

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the estimated size and entry count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.newStore(cmd.Context(), false)
			keys, err := store.Keys(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "failed to list keys")
			}
			size := store.Size(cmd.Context())
			a.out.Table([]string{"BACKEND", "PREFIX", "ENTRIES", "SIZE", "BUDGET"}, [][]string{{
				a.config.Cache.Backend,
				a.config.Cache.Prefix,
				strconv.Itoa(len(keys)),
				strconv.FormatInt(size, 10),
				strconv.FormatInt(a.config.Cache.MaxSize, 10),
			}})
			return nil
		},
	}
}

func (a *app) keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List cached keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.newStore(cmd.Context(), false)
			var keys []string
			if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
				keys = store.TaggedKeys(cmd.Context(), tag)
			} else {
				var err error
				if keys, err = store.Keys(cmd.Context()); err != nil {
					return errors.Wrap(err, "failed to list keys")
				}
			}
			if len(keys) == 0 {
				a.out.Muted("no keys")
				return nil
			}
			checkValid, _ := cmd.Flags().GetBool("valid")
			for _, key := range keys {
				if !checkValid {
					fmt.Fprintln(a.out.Writer(), key)
					continue
				}
				remaining, found := store.RemainingTTL(cmd.Context(), key)
				if !found || !store.IsValid(cmd.Context(), key) {
					fmt.Fprintf(a.out.Writer(), "%s (expired)\n", key)
					continue
				}
				fmt.Fprintf(a.out.Writer(), "%s (expires in %s)\n", key, remaining.Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().String("tag", "", "only list keys recorded under this tag")
	cmd.Flags().Bool("valid", false, "show the time left on each key and mark expired ones")
	return cmd
}
