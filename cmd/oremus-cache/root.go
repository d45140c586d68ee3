package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/cache"
	"github.com/oremus/go-common/config"
	"github.com/oremus/go-common/env"
	"github.com/oremus/go-common/logger"
	"github.com/oremus/go-common/tui"
	"github.com/spf13/cobra"
)

type storageOpener func(ctx context.Context, cfg *config.Config, log logger.Logger) (cache.Storage, error)

func openStorage(ctx context.Context, cfg *config.Config, log logger.Logger) (cache.Storage, error) {
	return cfg.OpenStorage(ctx, log)
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	out     *tui.Printer
	open    storageOpener
	logger  logger.Logger
	config  *config.Config
	storage cache.Storage
	store   *cache.Store
}

func newRootCommand(out *tui.Printer, open storageOpener) *cobra.Command {
	a := &app{out: out, open: open}
	root := &cobra.Command{
		Use:           "oremus-cache",
		Short:         "Inspect and maintain the oremus response cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetOut(out.Writer())

	flags := root.PersistentFlags()
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log output: console or json")
	flags.StringSlice("env-file", nil, "load variables from these files instead of .env")
	flags.String("backend", "", "durable backend: memory, sqlite or redis")
	flags.String("prefix", "", "key prefix")
	flags.String("sqlite-path", "", "sqlite database file")
	flags.String("redis-url", "", "redis connection url")

	root.AddCommand(
		a.getCommand(),
		a.setCommand(),
		a.deleteCommand(),
		a.clearCommand(),
		a.invalidateTagCommand(),
		a.cleanupCommand(),
		a.statsCommand(),
		a.keysCommand(),
		a.metricsCommand(),
		a.warmupCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	files, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	cfg.Cache.Backend = env.FlagOrEnv(cmd, "backend", "OREMUS_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Prefix = env.FlagOrEnv(cmd, "prefix", "OREMUS_CACHE_PREFIX", cfg.Cache.Prefix)
	cfg.Cache.SQLitePath = env.FlagOrEnv(cmd, "sqlite-path", "OREMUS_CACHE_SQLITE_PATH", cfg.Cache.SQLitePath)
	cfg.Redis.URL = env.FlagOrEnv(cmd, "redis-url", "OREMUS_REDIS_URL", cfg.Redis.URL)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.config = cfg
	a.logger = env.NewLogger(cmd).WithPrefix("[oremus-cache]")

	storage, err := a.open(cmd.Context(), cfg, a.logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s storage", cfg.Cache.Backend)
	}
	a.storage = storage
	a.logger.Debug("using %s storage with prefix %s", cfg.Cache.Backend, cfg.Cache.Prefix)
	return nil
}

// newStore builds a Store over the opened storage. Only long running
// commands ask for background cleanup.
func (a *app) newStore(ctx context.Context, background bool) *cache.Store {
	var extra []cache.Option
	if !background {
		extra = append(extra, cache.WithoutBackgroundCleanup())
	}
	a.store = cache.NewStore(ctx, a.storage, a.config.CacheOptions(a.logger, extra...)...)
	return a.store
}

func (a *app) close() error {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.storage != nil {
		err := a.storage.Close()
		a.storage = nil
		return err
	}
	return nil
}
