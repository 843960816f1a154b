package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/internal/health"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/internal/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "cache",
	Short: "Shared block cache service for the block prediction pipeline",
	Long: `The cache service holds computed prediction blocks behind a
byte-budgeted LRU with atomic get-or-insert-placeholder semantics, so
concurrent requests for the same block never trigger duplicate
computation.`,
}

func main() {
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache HTTP service",
		RunE:  runServe,
	}
	cmd.Flags().String("bind-address", ":5551", "address to bind the cache HTTP server on")
	cmd.Flags().Int("cap-bytes", 4<<30, "byte budget for the LRU; 0 disables byte-based eviction")
	cmd.Flags().Duration("placeholder-ttl", 0, "placeholder expiry (0 disables the TTL check)")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().String("log-file", "", "optional rotated log file path")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	bind, _ := cmd.Flags().GetString("bind-address")
	capBytes, _ := cmd.Flags().GetInt("cap-bytes")
	ttl, _ := cmd.Flags().GetDuration("placeholder-ttl")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")

	log := logging.New(logging.Config{Level: logLevel, FilePath: logFile})
	defer log.Sync()

	var opts []cache.Option
	if ttl > 0 {
		opts = append(opts, cache.WithPlaceholderTTL(ttl))
	}
	store := cache.NewStore(capBytes, opts...)

	reg := metrics.NewRegistry()
	mg := metrics.NewMultiGatherer()
	if err := mg.Register("cache", reg); err != nil {
		return err
	}

	router := mux.NewRouter()
	cache.NewServer(store, log).Register(router)

	aggregator := health.NewAggregator()
	router.HandleFunc("/health", newHealthHandler(aggregator)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(mg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         bind,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("cache: listening", logging.String("addr", bind))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("cache: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func newHealthHandler(aggregator *health.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, _ := aggregator.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}
