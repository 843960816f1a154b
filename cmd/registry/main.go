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

	"github.com/ilastik/blockpipeline/internal/health"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/internal/metrics"
	"github.com/ilastik/blockpipeline/registry"
)

var rootCmd = &cobra.Command{
	Use:   "registry",
	Short: "Central registry service for the block prediction pipeline",
	Long: `The registry service holds the pipeline's shared configuration: worker
endpoints, block size, thresholding parameters, the classifier blob, and
an append-only service log. Every other service reads its configuration
from here on startup.`,
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
		Short: "Run the registry HTTP service",
		RunE:  runServe,
	}
	cmd.Flags().String("bind-address", ":5550", "address to bind the registry HTTP server on")
	cmd.Flags().String("data-dir", "./data/registry", "directory backing the registry's durable pebble store")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().String("log-file", "", "optional rotated log file path")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	bind, _ := cmd.Flags().GetString("bind-address")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")

	log := logging.New(logging.Config{Level: logLevel, FilePath: logFile})
	defer log.Sync()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("registry: creating data dir %s: %w", dataDir, err)
	}
	store, err := registry.Open(dataDir, log)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := metrics.NewRegistry()
	mg := metrics.NewMultiGatherer()
	if err := mg.Register("registry", reg); err != nil {
		return err
	}

	router := mux.NewRouter()
	registry.NewServer(store).Register(router)

	aggregator := health.NewAggregator()
	aggregator.Register("store", storeChecker{store})
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
		log.Info("registry: listening", logging.String("addr", bind))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("registry: shutting down")
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

// storeChecker adapts registry.Store to health.Checker by probing a
// harmless scalar read.
type storeChecker struct {
	store *registry.Store
}

func (c storeChecker) HealthCheck(ctx context.Context) (interface{}, error) {
	_, _, err := c.store.Get(registry.GatewayIP)
	return nil, err
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
