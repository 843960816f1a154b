package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/registry"
	"github.com/ilastik/blockpipeline/thresholder"
)

type fakeRaw struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRaw) Fetch(ctx context.Context, begin, end blockmodel.Coord, dtype blockmodel.DType) (blockmodel.Payload, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	shape := end.Sub(begin)
	shape[blockmodel.AxisC] = 1
	n := shape[0] * shape[1] * shape[2] * shape[3] * shape[4]
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(begin[blockmodel.AxisX] + int64(i))
	}
	return blockmodel.Payload{Shape: shape, DType: dtype, Bytes: buf}, nil
}

type fakeCache struct {
	mu        sync.Mutex
	payload   map[int64]blockmodel.Payload
	placehold map[int64]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{payload: make(map[int64]blockmodel.Payload), placehold: make(map[int64]bool)}
}

func (f *fakeCache) Get(ctx context.Context, id int64, insertPlaceholder bool) (cache.GetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payload[id]; ok {
		return cache.GetResult{Found: true, Payload: p}, nil
	}
	if f.placehold[id] {
		return cache.GetResult{Placeholder: true}, nil
	}
	if insertPlaceholder {
		f.placehold[id] = true
	}
	return cache.GetResult{}, nil
}

func (f *fakeCache) Put(ctx context.Context, id int64, payload blockmodel.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload[id] = payload
	delete(f.placehold, id)
	return nil
}

func (f *fakeCache) List(ctx context.Context) ([]int64, error) { return nil, nil }

type fakeTasks struct {
	mu       sync.Mutex
	enqueued []int64
}

func (f *fakeTasks) Enqueue(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, id)
	return nil
}

// fakeBus hands out subscriptions that never deliver an event (the
// channel is closed only by Close), simulating a deployment where
// every block is already resolved by the gateway's own cache probe
// (no remote completions expected).
type fakeBus struct{}

func (fakeBus) Subscribe() (finishedSub, error) { return &fakeSub{events: make(chan int64)}, nil }

type fakeSub struct{ events chan int64 }

func (s *fakeSub) Events() <-chan int64 { return s.events }
func (s *fakeSub) Close() error         { close(s.events); return nil }

type fakeRegistry struct {
	workers []string
}

func (f *fakeRegistry) Get(ctx context.Context, key registry.Key) (string, bool, error) {
	return "", false, nil
}
func (f *fakeRegistry) GetList(ctx context.Context, key registry.Key) ([]string, error) {
	if key == registry.PixelClassificationWorkerIPs {
		return f.workers, nil
	}
	return nil, nil
}

type fakeWorkerProber struct {
	numClasses int
	blockShape blockmodel.Coord
}

func (f fakeWorkerProber) NumClasses(ctx context.Context) (int, error) { return f.numClasses, nil }
func (f fakeWorkerProber) BlockShape(ctx context.Context) (blockmodel.Coord, error) {
	return f.blockShape, nil
}

func newTestGateway(t *testing.T, raw *fakeRaw, c *fakeCache, tasks *fakeTasks) *Gateway {
	t.Helper()
	reg := &fakeRegistry{workers: []string{"worker-1:9000"}}
	prober := fakeWorkerProber{numClasses: 2, blockShape: blockmodel.Coord{1, 4, 4, 1, 1}}
	gw := New(raw, c, tasks, fakeBus{}, reg, thresholder.New(thresholder.DefaultConfig()),
		func(endpoint string) workerProber { return prober }, logging.Nop(), nil)
	require.NoError(t, gw.Setup(context.Background(), blockmodel.Coord{1, 16, 16, 1, 1}, blockmodel.DTypeUint8, blockmodel.Dim2))
	return gw
}

func TestGatewaySetupInstallsConfig(t *testing.T) {
	gw := newTestGateway(t, &fakeRaw{}, newFakeCache(), &fakeTasks{})
	n, ok := gw.NumClasses()
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestFetchRawStitchesAndCrops(t *testing.T) {
	raw := &fakeRaw{}
	gw := newTestGateway(t, raw, newFakeCache(), &fakeTasks{})

	roi := blockmodel.ROI{Begin: blockmodel.Coord{0, 2, 2, 0, 0}, End: blockmodel.Coord{1, 6, 6, 1, 1}}
	payload, err := gw.FetchRaw(context.Background(), roi)
	require.NoError(t, err)
	assert.Equal(t, roi.Shape(), payload.Shape)
	assert.True(t, raw.calls > 0)
}

func TestFetchPredictionEnqueuesMissingBlocksOnly(t *testing.T) {
	raw := &fakeRaw{}
	c := newFakeCache()
	// Pre-populate block 0 so its id is "already satisfied locally".
	c.payload[0] = blockmodel.Payload{Shape: blockmodel.Coord{1, 4, 4, 1, 2}, DType: blockmodel.DTypeFloat32, Bytes: make([]byte, 4*4*2*4)}
	tasks := &fakeTasks{}
	gw := newTestGateway(t, raw, c, tasks)

	roi := blockmodel.ROI{Begin: blockmodel.Coord{0, 0, 0, 0, 0}, End: blockmodel.Coord{1, 4, 4, 1, 2}}

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_ = ctx

	// Drive the probe/enqueue steps directly: with only one block in
	// the ROI (id 0) already cached, nothing should be enqueued and no
	// wait should hang.
	payload, err := gw.FetchPrediction(context.Background(), roi)
	require.NoError(t, err)
	assert.Empty(t, tasks.enqueued)
	assert.Equal(t, roi.Shape(), payload.Shape)
}

func TestRawInfoAccessorsReflectInstalledConfig(t *testing.T) {
	gw := newTestGateway(t, &fakeRaw{}, newFakeCache(), &fakeTasks{})

	dtype, ok := gw.RawDType()
	require.True(t, ok)
	assert.Equal(t, blockmodel.DTypeUint8, dtype)

	shape, ok := gw.RawShape()
	require.True(t, ok)
	assert.Equal(t, blockmodel.Coord{1, 16, 16, 1, 1}, shape)

	dim, ok := gw.Dim()
	require.True(t, ok)
	assert.Equal(t, blockmodel.Dim2, dim)
}

func TestRawInfoAccessorsFailBeforeSetup(t *testing.T) {
	reg := &fakeRegistry{}
	gw := New(&fakeRaw{}, newFakeCache(), &fakeTasks{}, fakeBus{}, reg, thresholder.New(thresholder.DefaultConfig()),
		func(endpoint string) workerProber { return fakeWorkerProber{} }, logging.Nop(), nil)

	_, ok := gw.RawDType()
	assert.False(t, ok)
	_, ok = gw.RawShape()
	assert.False(t, ok)
	_, ok = gw.Dim()
	assert.False(t, ok)
}
