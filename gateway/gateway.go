// Package gateway implements the pipeline's orchestration entry point
// (spec §4.8): raw/prediction/labelimage ROI serving, the cache
// coalescing protocol, and reading the registered classifier workers
// from the service registry during setup.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/blocking"
	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/collector"
	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/internal/metrics"
	"github.com/ilastik/blockpipeline/registry"
	"github.com/ilastik/blockpipeline/thresholder"
)

// fetchConcurrency bounds the per-request worker pool for parallel
// block fetches (spec §5: "suggested degree of parallelism: 4-40").
const fetchConcurrency = 16

// rawFetcher is the subset of rawclient.Client the gateway depends on.
type rawFetcher interface {
	Fetch(ctx context.Context, begin, end blockmodel.Coord, dtype blockmodel.DType) (blockmodel.Payload, error)
}

// cacheStore is the subset of cache.Client the gateway depends on.
type cacheStore interface {
	Get(ctx context.Context, id int64, insertPlaceholder bool) (cache.GetResult, error)
	Put(ctx context.Context, id int64, payload blockmodel.Payload) error
	List(ctx context.Context) ([]int64, error)
}

// taskEnqueuer is the subset of queue.TaskProducer the gateway depends on.
type taskEnqueuer interface {
	Enqueue(id int64) error
}

// finishedBus subscribes to the completion bus once per inbound
// request, per the collector's listener-first protocol.
type finishedBus interface {
	Subscribe() (finishedSub, error)
}

// finishedSub is the subset of queue.FinishedSubscription a Collector needs.
type finishedSub interface {
	Events() <-chan int64
	Close() error
}

// registryReader is the subset of registry.Client the gateway depends on.
type registryReader interface {
	Get(ctx context.Context, key registry.Key) (string, bool, error)
	GetList(ctx context.Context, key registry.Key) ([]string, error)
}

// Gateway orchestrates raw, prediction, and label-image requests.
type Gateway struct {
	raw         rawFetcher
	cacheClient cacheStore
	tasks       taskEnqueuer
	bus         finishedBus
	reg         registryReader
	th          *thresholder.Thresholder

	newWorkerClient func(endpoint string) workerProber

	cfg *configHolder
	log logging.Logger
	m   *metrics.GatewayMetrics
}

// workerProber is the subset of workerClient used during Setup,
// narrowed so tests can fake a worker's introspection responses.
type workerProber interface {
	NumClasses(ctx context.Context) (int, error)
	BlockShape(ctx context.Context) (blockmodel.Coord, error)
}

// New constructs a Gateway. newWorkerClient builds a worker-introspection
// client bound to a given worker endpoint; production callers pass a
// closure over internal/httpclient, tests pass a fake.
func New(raw rawFetcher, cacheClient cacheStore, tasks taskEnqueuer, bus finishedBus, reg registryReader, th *thresholder.Thresholder, newWorkerClient func(endpoint string) workerProber, log logging.Logger, m *metrics.GatewayMetrics) *Gateway {
	return &Gateway{
		raw:             raw,
		cacheClient:     cacheClient,
		tasks:           tasks,
		bus:             bus,
		reg:             reg,
		th:              th,
		newWorkerClient: newWorkerClient,
		cfg:             &configHolder{},
		log:             log,
		m:               m,
	}
}

// Setup (re)reads the registered worker list, probes the canonical
// classifier worker for block shape and class count, and installs a
// fresh config snapshot. The worker's dtype is not probed: the raw
// shape and dtype are taken from the caller's arguments.
func (g *Gateway) Setup(ctx context.Context, rawShape blockmodel.Coord, rawDType blockmodel.DType, dim blockmodel.Dim) error {
	workers, err := g.reg.GetList(ctx, registry.PixelClassificationWorkerIPs)
	if err != nil {
		return fmt.Errorf("gateway: reading worker list: %w", err)
	}
	if len(workers) == 0 {
		return apierr.Configuration("gateway: no classifier workers registered")
	}
	// All workers agree by construction (spec §4.9); the first
	// registered endpoint is picked as the canonical advisor.
	canonical := workers[0]
	wc := g.newWorkerClient(canonical)

	numClasses, err := wc.NumClasses(ctx)
	if err != nil {
		return fmt.Errorf("gateway: probing worker %s for class count: %w", canonical, err)
	}
	blockShape, err := wc.BlockShape(ctx)
	if err != nil {
		return fmt.Errorf("gateway: probing worker %s for block shape: %w", canonical, err)
	}

	grid, err := blocking.NewGrid(rawShape, blockShape)
	if err != nil {
		return apierr.Configuration("gateway: building block grid: %w", err)
	}

	g.cfg.set(&config{
		grid:           grid,
		blockShape:     blockShape,
		rawDType:       rawDType,
		numClasses:     numClasses,
		dim:            dim,
		workerEndpoint: canonical,
	})
	return nil
}

// spatialBounds clamps an ROI's channel axis to [0,1): block ids never
// depend on the channel dimension (the grid's channel axis is always
// size 1 by construction; each block's payload carries its own full
// channel width instead, per the stitching rule in spec §4.8).
func spatialBounds(roi blockmodel.ROI) (begin, end blockmodel.Coord) {
	begin, end = roi.Begin, roi.End
	begin[blockmodel.AxisC] = 0
	end[blockmodel.AxisC] = 1
	return begin, end
}

// NumClasses returns the installed classifier class count.
func (g *Gateway) NumClasses() (int, bool) {
	cfg, ok := g.cfg.get()
	if !ok {
		return 0, false
	}
	return cfg.numClasses, true
}

// RawDType returns the installed raw dataset's element type (spec §6:
// "/raw/info/dtype").
func (g *Gateway) RawDType() (blockmodel.DType, bool) {
	cfg, ok := g.cfg.get()
	if !ok {
		return "", false
	}
	return cfg.rawDType, true
}

// RawShape returns the installed raw dataset's full volume shape
// (spec §6: "/raw/info/shape").
func (g *Gateway) RawShape() (blockmodel.Coord, bool) {
	cfg, ok := g.cfg.get()
	if !ok {
		return blockmodel.Coord{}, false
	}
	return cfg.grid.VolumeShape, true
}

// Dim returns the installed spatial dimensionality, 2 or 3 (spec §6:
// "/raw/info/dim").
func (g *Gateway) Dim() (blockmodel.Dim, bool) {
	cfg, ok := g.cfg.get()
	if !ok {
		return 0, false
	}
	return cfg.dim, true
}

// FetchRaw serves the raw-ROI endpoint: parallel block fetches from
// the raw server, stitched and cropped (spec §4.8).
func (g *Gateway) FetchRaw(ctx context.Context, roi blockmodel.ROI) (blockmodel.Payload, error) {
	if err := roi.Validate(); err != nil {
		return blockmodel.Payload{}, apierr.Validation("gateway: %v", err)
	}
	cfg, ok := g.cfg.get()
	if !ok {
		return blockmodel.Payload{}, apierr.Configuration("gateway: not yet set up")
	}
	sBegin, sEnd := spatialBounds(roi)
	ids, err := cfg.grid.BlocksIn(sBegin, sEnd)
	if err != nil {
		return blockmodel.Payload{}, apierr.Validation("gateway: %v", err)
	}
	blocks := make([]blocking.BlockRef, len(ids))
	payloads := make(map[int64]blockmodel.Payload, len(ids))

	g2, gctx := errgroup.WithContext(ctx)
	g2.SetLimit(fetchConcurrency)
	var resultsMu sync.Mutex
	for i, id := range ids {
		i, id := i, id
		g2.Go(func() error {
			blk, err := cfg.grid.Block(id)
			if err != nil {
				return err
			}
			blocks[i] = blk
			payload, err := g.raw.Fetch(gctx, blk.Begin, blk.End, cfg.rawDType)
			if err != nil {
				return err
			}
			resultsMu.Lock()
			payloads[id] = payload
			resultsMu.Unlock()
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return blockmodel.Payload{}, err
	}

	start, stop := boundingBox(blocks)
	vol, err := stitch(start, stop, blocks, payloads)
	if err != nil {
		return blockmodel.Payload{}, err
	}
	return crop(vol, start, roi), nil
}

// FetchPrediction serves the prediction-ROI endpoint via the full
// coalescing protocol (spec §4.8 steps 1-7).
func (g *Gateway) FetchPrediction(ctx context.Context, roi blockmodel.ROI) (blockmodel.Payload, error) {
	if err := roi.Validate(); err != nil {
		return blockmodel.Payload{}, apierr.Validation("gateway: %v", err)
	}
	cfg, ok := g.cfg.get()
	if !ok {
		return blockmodel.Payload{}, apierr.Configuration("gateway: not yet set up")
	}
	sBegin, sEnd := spatialBounds(roi)
	ids, err := cfg.grid.BlocksIn(sBegin, sEnd)
	if err != nil {
		return blockmodel.Payload{}, apierr.Validation("gateway: %v", err)
	}

	// Step 2: subscribe before probing (listener-first).
	sub, err := g.bus.Subscribe()
	if err != nil {
		return blockmodel.Payload{}, fmt.Errorf("gateway: subscribing to completion bus: %w", err)
	}
	defer sub.Close()
	coll := collector.New(ids, sub, g.cacheClient, g.log)
	defer coll.Close()

	local := make(map[int64]blockmodel.Payload, len(ids))
	var satisfied []int64
	var missing []int64

	for _, id := range ids {
		result, err := g.cacheClient.Get(ctx, id, true)
		if err != nil {
			return blockmodel.Payload{}, err
		}
		switch {
		case result.Found:
			local[id] = result.Payload
			satisfied = append(satisfied, id)
		case result.Placeholder:
			// another request is already computing it; leave required.
		default:
			missing = append(missing, id)
		}
	}

	// Step 4: tell the collector which ids are already satisfied locally.
	coll.RemoveRequirements(satisfied)

	// Step 5: enqueue every id we ourselves installed a placeholder for.
	for _, id := range missing {
		if err := g.tasks.Enqueue(id); err != nil {
			return blockmodel.Payload{}, fmt.Errorf("gateway: enqueueing block %d: %w", id, err)
		}
	}

	remote, err := coll.Wait(ctx)
	if err != nil {
		return blockmodel.Payload{}, err
	}
	for id, p := range remote {
		local[id] = p
	}

	blocks := make([]blocking.BlockRef, 0, len(ids))
	for _, id := range ids {
		blk, err := cfg.grid.Block(id)
		if err != nil {
			return blockmodel.Payload{}, err
		}
		blocks = append(blocks, blk)
	}

	start, stop := boundingBox(blocks)
	vol, err := stitch(start, stop, blocks, local)
	if err != nil {
		return blockmodel.Payload{}, err
	}
	return crop(vol, start, roi), nil
}

// FetchLabelImage serves the labelimage-ROI endpoint: it requests the
// all-channel prediction over the ROI's own spatial extent for the
// single time-frame and proxies it to the thresholder (spec §4.8:
// "requires end[0]-begin[0] = 1"). Smoothing and labelling cover that
// extent only; the rest of the frame is not fetched.
func (g *Gateway) FetchLabelImage(ctx context.Context, roi blockmodel.ROI) (blockmodel.Payload, error) {
	if roi.End[blockmodel.AxisT]-roi.Begin[blockmodel.AxisT] != 1 {
		return blockmodel.Payload{}, apierr.Validation("gateway: labelimage requires a single time-frame, got t range [%d,%d)", roi.Begin[blockmodel.AxisT], roi.End[blockmodel.AxisT])
	}
	cfg, ok := g.cfg.get()
	if !ok {
		return blockmodel.Payload{}, apierr.Configuration("gateway: not yet set up")
	}
	full := roi
	full.Begin[blockmodel.AxisC] = 0
	full.End[blockmodel.AxisC] = int64(cfg.numClasses)

	prob, err := g.FetchPrediction(ctx, full)
	if err != nil {
		return blockmodel.Payload{}, err
	}
	return g.th.Label(prob, cfg.dim)
}

