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
	"go.uber.org/multierr"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/internal/health"
	"github.com/ilastik/blockpipeline/internal/httpclient"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/internal/metrics"
	"github.com/ilastik/blockpipeline/internal/rawclient"
	"github.com/ilastik/blockpipeline/queue"
	"github.com/ilastik/blockpipeline/registry"
	"github.com/ilastik/blockpipeline/worker"
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Classifier worker for the block prediction pipeline",
	Long: `The worker consumes block-compute tasks from the task queue, fetches
halo-expanded raw data, invokes the classifier kernel, caches the
resulting probabilities, and announces completion on the finished-block
bus.`,
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
		Short: "Run the classifier worker process",
		RunE:  runServe,
	}
	cmd.Flags().String("bind-address", ":5560", "address to bind this worker's introspection HTTP server on")
	cmd.Flags().String("endpoint", "localhost:5560", "this worker's externally reachable host:port, used for registry self-registration")
	cmd.Flags().String("registry-address", "http://localhost:5550", "base URL of the registry service")
	cmd.Flags().String("cache-address", "http://localhost:5551", "base URL of the cache service")
	cmd.Flags().String("raw-address", "http://localhost:5553", "base URL of the raw data server")
	cmd.Flags().String("task-endpoint", "tcp://localhost:5557", "task queue PULL-connect endpoint")
	cmd.Flags().String("finished-endpoint", "tcp://*:5558", "finished-block bus PUB-bind endpoint")
	cmd.Flags().String("raw-shape", "1_512_512_64_1", "raw volume shape as t_x_y_z_c")
	cmd.Flags().String("raw-dtype", "uint8", "raw volume element type")
	cmd.Flags().Int("concurrency", 1, "number of concurrent task-subscriber threads to run (spec: one long-lived task-subscriber thread per configured concurrency level)")
	cmd.Flags().Int("num-classes", 2, "placeholder kernel class count (the real classifier is an external collaborator)")
	cmd.Flags().String("kernel-halo", "0_0_0", "placeholder kernel halo as x_y_z")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().String("log-file", "", "optional rotated log file path")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	bind, _ := cmd.Flags().GetString("bind-address")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	registryAddr, _ := cmd.Flags().GetString("registry-address")
	cacheAddr, _ := cmd.Flags().GetString("cache-address")
	rawAddr, _ := cmd.Flags().GetString("raw-address")
	taskEndpoint, _ := cmd.Flags().GetString("task-endpoint")
	finishedEndpoint, _ := cmd.Flags().GetString("finished-endpoint")
	rawShapeStr, _ := cmd.Flags().GetString("raw-shape")
	rawDTypeStr, _ := cmd.Flags().GetString("raw-dtype")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	numClasses, _ := cmd.Flags().GetInt("num-classes")
	haloStr, _ := cmd.Flags().GetString("kernel-halo")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")

	log := logging.New(logging.Config{Level: logLevel, FilePath: logFile})
	defer log.Sync()

	rawShape, err := blockmodel.ParseCoord(rawShapeStr)
	if err != nil {
		return fmt.Errorf("worker: --raw-shape: %w", err)
	}
	rawDType := blockmodel.DType(rawDTypeStr)
	if !rawDType.Valid() {
		return fmt.Errorf("worker: --raw-dtype: unknown dtype %q", rawDTypeStr)
	}
	halo, err := parseXYZFlag(haloStr)
	if err != nil {
		return fmt.Errorf("worker: --kernel-halo: %w", err)
	}
	if concurrency < 1 {
		return fmt.Errorf("worker: --concurrency must be at least 1, got %d", concurrency)
	}

	regClient := registry.NewClient(httpclient.New(registryAddr))
	cacheClient := cache.NewClient(httpclient.New(cacheAddr))
	rawClient := rawclient.New(httpclient.New(rawAddr))

	// Each concurrent consumer thread gets its own PULL socket: a
	// ZeroMQ socket isn't safe to share across goroutines.
	consumers := make([]*queue.TaskConsumer, concurrency)
	for i := 0; i < concurrency; i++ {
		c, err := queue.NewTaskConsumer(taskEndpoint, log)
		if err != nil {
			return err
		}
		defer c.Close()
		consumers[i] = c
	}

	finishedPub, err := queue.NewFinishedPublisher(finishedEndpoint)
	if err != nil {
		return err
	}
	defer finishedPub.Close()

	reg := metrics.NewRegistry()
	m, err := metrics.NewWorkerMetrics("worker", reg)
	if err != nil {
		return err
	}
	mg := metrics.NewMultiGatherer()
	if err := mg.Register("worker", reg); err != nil {
		return err
	}

	kernel := stubKernel{halo: blockmodel.Coord{0, halo[0], halo[1], halo[2], 0}, numClasses: numClasses}

	w := worker.New(endpoint, kernel, consumers[0], finishedPub, cacheClient, rawClient, regClient, log, m)
	if err := w.Setup(context.Background(), rawShape, rawDType); err != nil {
		return fmt.Errorf("worker: setup: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker: starting task-subscriber threads", logging.Int("concurrency", concurrency))
	runErrCh := make(chan error, concurrency)
	for _, c := range consumers {
		c := c
		go func() { runErrCh <- w.RunWith(ctx, c) }()
	}

	router := mux.NewRouter()
	worker.NewServer(w).Register(router)
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

	srvErrCh := make(chan error, 1)
	go func() {
		log.Info("worker: listening", logging.String("addr", bind), logging.String("endpoint", endpoint))
		srvErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("worker: shutting down")
		if derr := w.Deregister(context.Background()); derr != nil {
			log.Warn("worker: deregistration failed", logging.Err(derr))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return waitRunErrs(runErrCh, concurrency)
	case err := <-srvErrCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return waitRunErrs(runErrCh, concurrency)
	}
}

// waitRunErrs drains one result per task-subscriber thread, joining
// every non-nil error into a single combined error so a failure in
// one concurrent consumer is never silently dropped in favor of
// another's nil result.
func waitRunErrs(runErrCh <-chan error, concurrency int) error {
	var combined error
	for i := 0; i < concurrency; i++ {
		combined = multierr.Append(combined, <-runErrCh)
	}
	return combined
}

func parseXYZFlag(s string) ([3]int64, error) {
	var out [3]int64
	n, err := fmt.Sscanf(s, "%d_%d_%d", &out[0], &out[1], &out[2])
	if err != nil || n != 3 {
		return out, fmt.Errorf("%q is not x_y_z integers", s)
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
