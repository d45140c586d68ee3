package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/cache"
	"github.com/oremus/go-common/gateway"
	"github.com/oremus/go-common/prayer"
	"github.com/oremus/go-common/resilience"
	"github.com/oremus/go-common/supabase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long the metrics server drains on exit.
const shutdownTimeout = 5 * time.Second

// metricsCommand keeps a Store open with background cleanup and exposes its
// statistics for scraping until interrupted.
func (a *app) metricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve cache statistics in the Prometheus format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			listen, _ := cmd.Flags().GetString("listen")
			namespace, _ := cmd.Flags().GetString("namespace")
			store := a.newStore(ctx, true)

			registry := prometheus.NewRegistry()
			if err := registry.Register(cache.NewCollector(namespace, store)); err != nil {
				return errors.Wrap(err, "failed to register collector")
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errs := make(chan error, 1)
			go func() { errs <- server.ListenAndServe() }()
			a.logger.Info("serving metrics on %s/metrics", listen)

			select {
			case err := <-errs:
				return errors.Wrap(err, "metrics server failed")
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("listen", ":9464", "address to serve /metrics on")
	cmd.Flags().String("namespace", "oremus", "metric namespace")
	return cmd
}

// warmupCommand primes the shared read caches from the configured project.
func (a *app) warmupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "warmup",
		Short: "Prime the shared prayer and church caches from Supabase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.config.HasSupabase() {
				return errors.New("OREMUS_SUPABASE_URL and OREMUS_SUPABASE_KEY are required")
			}
			backend, err := supabase.New(a.config.Supabase.URL, a.config.Supabase.Key, supabase.WithLogger(a.logger))
			if err != nil {
				return err
			}
			store := a.newStore(cmd.Context(), false)
			gw := gateway.New(store, resilience.NewRetrier(a.config.RetryConfig(a.logger)), gateway.WithLogger(a.logger))
			service := prayer.NewService(backend, gw, prayer.WithLogger(a.logger))

			var ok bool
			if err := a.out.Spin(cmd.Context(), "Warming up...", func() {
				ok = service.Warmup(cmd.Context())
			}); err != nil {
				return err
			}
			if !ok {
				return errors.New("some entries failed to warm up")
			}
			a.out.Success("cache warmed")
			return nil
		},
	}
}
