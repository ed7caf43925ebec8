package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-wearables/adapters/gojob"
	"github.com/goliatone/go-wearables/adapters/promrecorder"
	"github.com/goliatone/go-wearables/providers/terra"
	"github.com/goliatone/go-wearables/webhooks"
)

var (
	serveAddr       string
	cleanupInterval time.Duration
	refreshInterval time.Duration
	maxWebhookBytes int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve provider webhooks and metrics",
	Long: `Starts the HTTP server that receives push provider webhooks at
POST /webhooks/{provider}, exposes Prometheus metrics at /metrics and runs
a job queue that drops expired webhook cache entries and refreshes stored
credentials ahead of expiry.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		server := &http.Server{
			Addr:              serveAddr,
			Handler:           newServeHandler(rt),
			ReadHeaderTimeout: 10 * time.Second,
		}

		jobs := gojob.NewQueue()
		runner := gojob.NewRunner(
			gojob.WithExpiredCleaner(rt.cache),
			gojob.WithCredentialRefresher(rt.service),
			gojob.WithRetryPolicy(jobRetryPolicy),
			gojob.WithLogger(rt.logger),
			gojob.WithMetricsRecorder(promrecorder.New(rt.metrics)),
		)
		scheduler := newScheduler(rt, gojob.NewEnqueuer(jobs))
		go scheduler.Run(ctx)
		go func() {
			if err := runner.Run(ctx, gojob.NewDequeuer(jobs, jobRetryPolicy)); err != nil {
				rt.logger.Error("job runner stopped", "error", err)
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			rt.logger.Info("listening", "addr", serveAddr)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		cmd.Println("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().DurationVar(&cleanupInterval, "cleanup-interval", time.Hour, "how often expired webhook cache entries are dropped")
	serveCmd.Flags().DurationVar(&refreshInterval, "refresh-interval", 15*time.Minute, "how often stored credentials are checked for refresh; 0 disables")
	serveCmd.Flags().Int64Var(&maxWebhookBytes, "max-webhook-bytes", webhooks.DefaultMaxBodyBytes, "largest accepted webhook body")
	rootCmd.AddCommand(serveCmd)
}

func newServeHandler(rt *runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	secret := ""
	if settings, ok := rt.cfg.ProviderSettingsFor(terra.Name); ok {
		secret = settings.WebhookSecret
	}
	var ledger webhooks.DeliveryLedger = webhooks.NewMemoryLedger()
	if store := rt.stores.WebhookDeliveryStore(); store != nil {
		ledger = store
	}
	ingestor := terra.NewIngestor(rt.cache, terra.WithIngestLogger(rt.logger))
	processors := map[string]*webhooks.Processor{}
	if secret != "" {
		processors[terra.Name] = webhooks.NewTerraProcessor(secret, ledger, ingestor)
	} else {
		rt.logger.Warn("terra webhook secret not configured; terra deliveries will be rejected")
	}

	webhooks.Mount(r, webhooks.RouterConfig{
		Processors:   processors,
		MaxBodyBytes: maxWebhookBytes,
		Logger:       rt.logger,
	})
	r.Method(http.MethodGet, "/metrics", promrecorder.Handler(rt.metrics))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := rt.client.DB().PingContext(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}

var jobRetryPolicy = gojob.RetryPolicy{MaxAttempts: 5, MaxDelay: 10 * time.Minute, DeadLetterOnMax: true}

func newScheduler(rt *runtime, enqueuer *gojob.Enqueuer) *gojob.Scheduler {
	opts := []gojob.SchedulerOption{
		gojob.WithCleanupInterval(cleanupInterval),
		gojob.WithSchedulerLogger(rt.logger),
	}
	if lister, ok := rt.stores.ConnectionStore().(gojob.ConnectionLister); ok {
		opts = append(opts, gojob.WithRefreshSweep(lister, refreshInterval))
	}
	return gojob.NewScheduler(enqueuer, opts...)
}
