package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
)

func TestGetInsertsPlaceholderOnce(t *testing.T) {
	s := NewStore(0)

	first := s.Get(1, true)
	require.False(t, first.Found)
	require.False(t, first.Placeholder)

	second := s.Get(1, true)
	require.False(t, second.Found)
	require.True(t, second.Placeholder)
}

func TestPutOverwritesPlaceholder(t *testing.T) {
	s := NewStore(0)
	_ = s.Get(1, true)

	payload := blockmodel.Payload{Shape: blockmodel.Coord{1, 8, 8, 1, 2}, DType: blockmodel.DTypeFloat32, Bytes: []byte{1, 2, 3, 4}}
	s.Put(1, payload)

	result := s.Get(1, false)
	require.True(t, result.Found)
	assert.Equal(t, payload.Bytes, result.Payload.Bytes)
}

func TestCoalescingUnderConcurrency(t *testing.T) {
	s := NewStore(0)
	const n = 50
	var mustCompute int64

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r := s.Get(7, true)
			if !r.Found && !r.Placeholder {
				atomic.AddInt64(&mustCompute, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), mustCompute, "exactly one caller must be told to compute the block")
}

func TestListExcludesPlaceholders(t *testing.T) {
	s := NewStore(0)
	_ = s.Get(1, true)
	s.Put(2, blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeUint8, Bytes: []byte{9}})

	ids := s.List()
	assert.Equal(t, []int64{2}, ids)
}

func TestClearRemovesEverything(t *testing.T) {
	s := NewStore(0)
	_ = s.Get(1, true)
	s.Put(2, blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeUint8, Bytes: []byte{9}})

	s.Clear()

	assert.Empty(t, s.List())
	r := s.Get(2, false)
	assert.False(t, r.Found)
	assert.False(t, r.Placeholder)
}

func TestByteBudgetEviction(t *testing.T) {
	s := NewStore(10) // fits roughly 2 four-byte payloads
	payload := func(b byte) blockmodel.Payload {
		return blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeUint8, Bytes: []byte{b, b, b, b}}
	}
	s.Put(1, payload(1))
	s.Put(2, payload(2))
	s.Put(3, payload(3)) // should evict id 1 (least recently used)

	r1 := s.Get(1, false)
	assert.False(t, r1.Found, "oldest entry should have been evicted")

	r3 := s.Get(3, false)
	assert.True(t, r3.Found)
}

func TestPlaceholderEvictionAllowsRescheduling(t *testing.T) {
	s := NewStore(1) // tiny budget forces eviction on any payload write
	_ = s.Get(1, true)

	payload := blockmodel.Payload{Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeUint8, Bytes: []byte{1, 2, 3, 4}}
	s.Put(2, payload) // evicts the placeholder for id 1 since it is LRU

	r := s.Get(1, true)
	assert.False(t, r.Found)
	assert.False(t, r.Placeholder, "a fresh placeholder must be insertable once the old one was evicted")
}

func TestPlaceholderTTLExpiry(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	s := NewStore(0, WithPlaceholderTTL(time.Second), withClock(clock))

	_ = s.Get(1, true)
	current = current.Add(2 * time.Second)

	r := s.Get(1, true)
	assert.False(t, r.Found)
	assert.False(t, r.Placeholder, "an expired placeholder must be treated as absent")
}
