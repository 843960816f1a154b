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

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/gateway"
	"github.com/ilastik/blockpipeline/internal/health"
	"github.com/ilastik/blockpipeline/internal/httpclient"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/internal/metrics"
	"github.com/ilastik/blockpipeline/internal/rawclient"
	"github.com/ilastik/blockpipeline/queue"
	"github.com/ilastik/blockpipeline/registry"
	"github.com/ilastik/blockpipeline/thresholder"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Orchestration gateway for the block prediction pipeline",
	Long: `The gateway is the pipeline's entry point: it serves raw, prediction,
and label-image ROI requests, runs the cache-coalescing protocol against
the classifier workers, and hands the assembled prediction volume to the
thresholder for label-image requests.`,
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
		Short: "Run the gateway HTTP service",
		RunE:  runServe,
	}
	cmd.Flags().String("bind-address", ":5552", "address to bind the gateway HTTP server on")
	cmd.Flags().String("registry-address", "http://localhost:5550", "base URL of the registry service")
	cmd.Flags().String("cache-address", "http://localhost:5551", "base URL of the cache service")
	cmd.Flags().String("raw-address", "http://localhost:5553", "base URL of the raw data server")
	cmd.Flags().String("task-endpoint", "tcp://*:5557", "task queue PUSH-bind endpoint")
	cmd.Flags().String("finished-endpoint", "tcp://localhost:5558", "finished-block bus SUB-connect endpoint")
	cmd.Flags().String("raw-shape", "1_512_512_64_1", "raw volume shape as t_x_y_z_c")
	cmd.Flags().String("raw-dtype", "uint8", "raw volume element type")
	cmd.Flags().Int("dim", 2, "spatial dimensionality of the pipeline: 2 or 3")
	cmd.Flags().Float64("threshold", 0.5, "thresholder: probability threshold for foreground")
	cmd.Flags().Int("threshold-channel", 0, "thresholder: which probability channel to threshold on")
	cmd.Flags().String("threshold-sigmas", "1.0_1.0_1.0", "thresholder: underscore-joined x_y_z Gaussian sigmas")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().String("log-file", "", "optional rotated log file path")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	bind, _ := cmd.Flags().GetString("bind-address")
	registryAddr, _ := cmd.Flags().GetString("registry-address")
	cacheAddr, _ := cmd.Flags().GetString("cache-address")
	rawAddr, _ := cmd.Flags().GetString("raw-address")
	taskEndpoint, _ := cmd.Flags().GetString("task-endpoint")
	finishedEndpoint, _ := cmd.Flags().GetString("finished-endpoint")
	rawShapeStr, _ := cmd.Flags().GetString("raw-shape")
	rawDTypeStr, _ := cmd.Flags().GetString("raw-dtype")
	dimInt, _ := cmd.Flags().GetInt("dim")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	thresholdChannel, _ := cmd.Flags().GetInt("threshold-channel")
	sigmasStr, _ := cmd.Flags().GetString("threshold-sigmas")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")

	log := logging.New(logging.Config{Level: logLevel, FilePath: logFile})
	defer log.Sync()

	rawShape, err := blockmodel.ParseCoord(rawShapeStr)
	if err != nil {
		return fmt.Errorf("gateway: --raw-shape: %w", err)
	}
	rawDType := blockmodel.DType(rawDTypeStr)
	if !rawDType.Valid() {
		return fmt.Errorf("gateway: --raw-dtype: unknown dtype %q", rawDTypeStr)
	}
	dim := blockmodel.Dim(dimInt)
	if dim != blockmodel.Dim2 && dim != blockmodel.Dim3 {
		return fmt.Errorf("gateway: --dim must be 2 or 3, got %d", dimInt)
	}
	sigmas, err := parseXYZFloat(sigmasStr)
	if err != nil {
		return fmt.Errorf("gateway: --threshold-sigmas: %w", err)
	}

	regClient := registry.NewClient(httpclient.New(registryAddr))
	cacheClient := cache.NewClient(httpclient.New(cacheAddr))
	rawClient := rawclient.New(httpclient.New(rawAddr))

	taskProducer, err := queue.NewTaskProducer(taskEndpoint, log)
	if err != nil {
		return err
	}
	defer taskProducer.Close()

	bus := gateway.NewQueueBus(finishedEndpoint, log)

	reg := metrics.NewRegistry()
	m, err := metrics.NewGatewayMetrics("gateway", reg)
	if err != nil {
		return err
	}
	mg := metrics.NewMultiGatherer()
	if err := mg.Register("gateway", reg); err != nil {
		return err
	}

	th := thresholder.New(thresholder.Config{
		SigmaX:    sigmas[0],
		SigmaY:    sigmas[1],
		SigmaZ:    sigmas[2],
		Threshold: threshold,
		Channel:   thresholdChannel,
	})

	gw := gateway.New(rawClient, cacheClient, taskProducer, bus, regClient, th, gateway.NewWorkerClientFactory(), log, m)
	if err := gw.Setup(context.Background(), rawShape, rawDType, dim); err != nil {
		return fmt.Errorf("gateway: setup: %w", err)
	}

	router := mux.NewRouter()
	gateway.NewServer(gw).Register(router)
	aggregator := health.NewAggregator()
	router.HandleFunc("/health", newHealthHandler(aggregator)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(mg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         bind,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway: listening", logging.String("addr", bind))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("gateway: shutting down")
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

func parseXYZFloat(s string) ([3]float64, error) {
	var out [3]float64
	n, err := fmt.Sscanf(s, "%f_%f_%f", &out[0], &out[1], &out[2])
	if err != nil || n != 3 {
		return out, fmt.Errorf("%q is not x_y_z floats", s)
	}
	return out, nil
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
