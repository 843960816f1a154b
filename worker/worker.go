package worker

import (
	"context"
	"fmt"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/blocking"
	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/internal/metrics"
	"github.com/ilastik/blockpipeline/internal/rawclient"
	"github.com/ilastik/blockpipeline/registry"
)

// taskSource is the subset of queue.TaskConsumer the worker loop
// depends on, narrowed so tests can supply a fake without a real
// ZeroMQ socket.
type taskSource interface {
	Next(ctx context.Context) (int64, error)
}

// publisher is the subset of queue.FinishedPublisher the worker
// depends on.
type publisher interface {
	Publish(id int64) error
}

// cacheStore is the subset of cache.Client the worker depends on.
type cacheStore interface {
	Get(ctx context.Context, id int64, insertPlaceholder bool) (cache.GetResult, error)
	Put(ctx context.Context, id int64, payload blockmodel.Payload) error
	List(ctx context.Context) ([]int64, error)
}

// rawSource is the subset of rawclient.Client the worker depends on.
type rawSource interface {
	Fetch(ctx context.Context, begin, end blockmodel.Coord, dtype blockmodel.DType) (blockmodel.Payload, error)
}

// registryStore is the subset of registry.Client the worker depends on.
type registryStore interface {
	Get(ctx context.Context, key registry.Key) (string, bool, error)
	RegisterWorker(ctx context.Context, endpoint string) error
	DeregisterWorker(ctx context.Context, endpoint string) error
}

// Worker runs the classifier worker's task loop. Deployments run one
// or more concurrent RunWith goroutines, each its own task-source
// connection, to reach the configured concurrency level (spec §5).
type Worker struct {
	endpoint string
	kernel   Kernel

	tasks       taskSource
	finished    publisher
	cacheClient cacheStore
	rawClient   rawSource
	registry    registryStore

	cfg *configHolder
	log logging.Logger
	m   *metrics.WorkerMetrics
}

// New constructs a Worker. Call Setup once before Run to install the
// first config snapshot.
func New(endpoint string, kernel Kernel, tasks taskSource, finished publisher, cacheClient cacheStore, rawClient rawSource, reg registryStore, log logging.Logger, m *metrics.WorkerMetrics) *Worker {
	return &Worker{
		endpoint:    endpoint,
		kernel:      kernel,
		tasks:       tasks,
		finished:    finished,
		cacheClient: cacheClient,
		rawClient:   rawClient,
		registry:    reg,
		cfg:         &configHolder{},
		log:         log,
		m:           m,
	}
}

// Setup (re)reads the registry's BLOCKSIZE, self-registers this
// worker's endpoint on the first successful call (spec §4.9: "Workers
// self-register under their endpoint IP on startup"), and installs a
// fresh config snapshot. It is idempotent and may be called again to
// pick up a changed block size.
func (w *Worker) Setup(ctx context.Context, volumeShape blockmodel.Coord, dtype blockmodel.DType) error {
	raw, ok, err := w.registry.Get(ctx, registry.BlockSize)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Configuration("worker: registry has no %s; cannot set up", registry.BlockSize)
	}
	spatial, err := parseXYZ(raw)
	if err != nil {
		return apierr.Configuration("worker: %w", err)
	}
	blockShape := blockmodel.Coord{1, spatial[0], spatial[1], spatial[2], 1}

	grid, err := blocking.NewGrid(volumeShape, blockShape)
	if err != nil {
		return apierr.Configuration("worker: building block grid: %w", err)
	}

	// A config is installed only after a successful registration, so an
	// existing one means the endpoint is already on the list.
	if _, registered := w.cfg.get(); !registered {
		if err := w.registry.RegisterWorker(ctx, w.endpoint); err != nil {
			return fmt.Errorf("worker: self-registering: %w", err)
		}
	}

	w.cfg.set(&config{grid: grid, blockShape: blockShape, dtype: dtype})
	return nil
}

// Deregister removes this worker's endpoint from the registry,
// intended to run on graceful shutdown (spec §3: "Worker endpoints
// appear on /setup and disappear on process exit").
func (w *Worker) Deregister(ctx context.Context) error {
	return w.registry.DeregisterWorker(ctx, w.endpoint)
}

// Run consumes tasks from the worker's own task source until ctx is
// cancelled. A deployment reaching a configured concurrency level
// above 1 calls RunWith concurrently instead, once per independent
// task-source connection (spec §5: "Classifier workers additionally
// run one long-lived task-subscriber thread per configured
// concurrency level") — a single ZeroMQ socket is not safe to share
// across goroutines, so each concurrent consumer needs its own.
func (w *Worker) Run(ctx context.Context) error {
	return w.RunWith(ctx, w.tasks)
}

// RunWith consumes tasks from tasks until ctx is cancelled, sharing
// this Worker's cache, registry, kernel, and finished-publisher with
// any other concurrently running consumer.
func (w *Worker) RunWith(ctx context.Context, tasks taskSource) error {
	for {
		id, err := tasks.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("worker: task receive error", logging.Err(err))
			continue
		}
		if w.m != nil {
			w.m.TasksConsumed.Inc()
		}
		w.handleTask(ctx, id)
	}
}

func (w *Worker) handleTask(ctx context.Context, id int64) {
	existing, _, err := w.computeOrFetch(ctx, id)
	if err != nil {
		// Fail-silent-and-abandon: log and drop, placeholder remains
		// (spec §4.6 failure semantics).
		w.log.Error("worker: processing failed, abandoning task", logging.Err(err), logging.Int("id", int(id)))
		return
	}
	if existing && w.m != nil {
		w.m.TasksSkipped.Inc()
	}
	if err := w.finished.Publish(id); err != nil {
		w.log.Error("worker: publishing completion failed", logging.Err(err), logging.Int("id", int(id)))
	}
}

// ComputeBlock synchronously returns block id's prediction, computing
// it if necessary, for the worker's own "compute-or-fetch-and-return"
// HTTP route (spec §6: "/prediction/raw/<blockId>"). Unlike the task
// queue's handleTask, it does not announce completion on the finished
// bus: that announcement belongs to the asynchronous task-consumption
// path, not to a synchronous client-initiated request.
func (w *Worker) ComputeBlock(ctx context.Context, id int64) (blockmodel.Payload, error) {
	_, payload, err := w.computeOrFetch(ctx, id)
	return payload, err
}

// computeOrFetch implements the shared idempotency-guard/halo-fetch/
// compute/cache-put path used by both the task-queue loop and the
// synchronous HTTP route. existing reports whether the block was
// already cached.
func (w *Worker) computeOrFetch(ctx context.Context, id int64) (existing bool, payload blockmodel.Payload, err error) {
	cfg, ok := w.cfg.get()
	if !ok {
		return false, blockmodel.Payload{}, apierr.Configuration("worker: block requested before setup")
	}

	// Idempotency guard against at-least-once delivery (spec §4.6 step 1).
	result, err := w.cacheClient.Get(ctx, id, false)
	if err != nil {
		return false, blockmodel.Payload{}, fmt.Errorf("worker: idempotency check for block %d: %w", id, err)
	}
	if result.Found {
		return true, result.Payload, nil
	}

	blk, err := cfg.grid.Block(id)
	if err != nil {
		return false, blockmodel.Payload{}, apierr.Validation("worker: bad block id %d: %v", id, err)
	}

	innerShape := blk.Shape()
	halo := w.kernel.Halo(innerShape)
	haloBegin, haloEnd := expandWithHalo(blk, halo, cfg.grid.VolumeShape)

	raw, err := w.rawClient.Fetch(ctx, haloBegin, haloEnd, cfg.dtype)
	if err != nil {
		if w.m != nil {
			w.m.TasksFailed.Inc()
		}
		return false, blockmodel.Payload{}, fmt.Errorf("worker: raw fetch for block %d: %w", id, err)
	}

	probs, err := w.kernel.Compute(raw, innerShape)
	if err != nil {
		if w.m != nil {
			w.m.TasksFailed.Inc()
		}
		return false, blockmodel.Payload{}, apierr.WorkerException(fmt.Errorf("block %d: %w", id, err))
	}

	if err := w.cacheClient.Put(ctx, id, probs); err != nil {
		return false, blockmodel.Payload{}, fmt.Errorf("worker: cache put for block %d: %w", id, err)
	}
	return false, probs, nil
}

// expandWithHalo grows a block's extent by halo on every spatial
// axis, clipped to the volume bounds.
func expandWithHalo(blk blocking.BlockRef, halo, volumeShape blockmodel.Coord) (begin, end blockmodel.Coord) {
	for i := 0; i < blockmodel.NumAxes; i++ {
		b := blk.Begin[i] - halo[i]
		if b < 0 {
			b = 0
		}
		e := blk.End[i] + halo[i]
		if e > volumeShape[i] {
			e = volumeShape[i]
		}
		begin[i] = b
		end[i] = e
	}
	return begin, end
}

// parseXYZ parses the registry's BLOCKSIZE value, an underscore-joined
// x_y_z triplet (spec §6), distinct from the full 5-D Coord format.
func parseXYZ(s string) ([3]int64, error) {
	var out [3]int64
	n, err := fmt.Sscanf(s, "%d_%d_%d", &out[0], &out[1], &out[2])
	if err != nil || n != 3 {
		return out, fmt.Errorf("BLOCKSIZE %q is not x_y_z integers", s)
	}
	return out, nil
}
