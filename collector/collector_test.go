package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/internal/logging"
)

type fakeCache struct {
	mu      sync.Mutex
	payload map[int64]blockmodel.Payload
}

func newFakeCache() *fakeCache { return &fakeCache{payload: make(map[int64]blockmodel.Payload)} }

func (f *fakeCache) Get(ctx context.Context, id int64, insertPlaceholder bool) (cache.GetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payload[id]; ok {
		return cache.GetResult{Found: true, Payload: p}, nil
	}
	return cache.GetResult{}, nil
}

func (f *fakeCache) put(id int64, p blockmodel.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload[id] = p
}

type fakeSub struct{ events chan int64 }

func newFakeSub() *fakeSub { return &fakeSub{events: make(chan int64, 16)} }

func (s *fakeSub) Events() <-chan int64 { return s.events }

func TestWaitReturnsOnceAllRequiredArriveViaBus(t *testing.T) {
	c := newFakeCache()
	sub := newFakeSub()
	coll := New([]int64{1, 2, 3}, sub, c, logging.Nop())
	defer coll.Close()

	c.put(1, blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeFloat32, Bytes: []byte{1, 2, 3, 4}})
	c.put(2, blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeFloat32, Bytes: []byte{5, 6, 7, 8}})
	c.put(3, blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeFloat32, Bytes: []byte{9, 10, 11, 12}})

	sub.events <- 1
	sub.events <- 2
	sub.events <- 3

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := coll.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRemoveRequirementsShrinksRequiredSet(t *testing.T) {
	c := newFakeCache()
	sub := newFakeSub()
	coll := New([]int64{1, 2}, sub, c, logging.Nop())
	defer coll.Close()

	coll.RemoveRequirements([]int64{1, 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := coll.Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWaitCancelsWithContext(t *testing.T) {
	c := newFakeCache()
	sub := newFakeSub()
	coll := New([]int64{1}, sub, c, logging.Nop())
	defer coll.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := coll.Wait(ctx)
	assert.Error(t, err)
}

func TestCompletionForUnrequestedIDIsIgnored(t *testing.T) {
	c := newFakeCache()
	c.put(99, blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeFloat32, Bytes: []byte{1, 2, 3, 4}})
	sub := newFakeSub()
	coll := New([]int64{1}, sub, c, logging.Nop())
	defer coll.Close()

	sub.events <- 99
	coll.RemoveRequirements([]int64{1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := coll.Wait(ctx)
	require.NoError(t, err)
	assert.NotContains(t, got, int64(99))
}
