// Package collector implements the per-request completion collector
// from spec §4.5: a component that waits for a declared set of block
// ids to become available in the cache, woken by the finished-block
// bus rather than by polling the cache itself.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/cache"
	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/logging"
)

// pollInterval is how often Wait drains newly available payloads and
// re-checks for termination (spec §4.5: "a short polling interval
// (≈50ms)").
const pollInterval = 50 * time.Millisecond

// cacheReader is the subset of cache.Client the collector depends on,
// narrowed so callers can supply a fake in tests.
type cacheReader interface {
	Get(ctx context.Context, id int64, insertPlaceholder bool) (cache.GetResult, error)
}

// finishedSub is the subset of queue.FinishedSubscription the
// collector depends on.
type finishedSub interface {
	Events() <-chan int64
}

// Collector accumulates payloads for a fixed set of required block
// ids. Construct it with New *before* probing the cache for each id
// (listener-first, to avoid the lost-wakeup where a worker's
// completion event fires between the cache probe and the subscribe
// call).
type Collector struct {
	requiredMu sync.Mutex
	required   map[int64]struct{}

	availableMu sync.Mutex
	available   map[int64]blockmodel.Payload

	accumulated map[int64]blockmodel.Payload

	sub         finishedSub
	cacheClient cacheReader
	log         logging.Logger

	stopPump chan struct{}
	pumpDone chan struct{}
}

// New constructs a Collector for ids, already subscribed via sub. The
// caller must have created sub before calling New, and must call New
// before reading the cache for any of ids.
func New(ids []int64, sub finishedSub, cacheClient cacheReader, log logging.Logger) *Collector {
	required := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		required[id] = struct{}{}
	}
	c := &Collector{
		required:    required,
		available:   make(map[int64]blockmodel.Payload),
		accumulated: make(map[int64]blockmodel.Payload, len(ids)),
		sub:         sub,
		cacheClient: cacheClient,
		log:         log,
		stopPump:    make(chan struct{}),
		pumpDone:    make(chan struct{}),
	}
	go c.pump()
	return c
}

// RemoveRequirements marks ids as already satisfied by the owning
// request's own cache probe (spec §4.5 step 2), so the collector stops
// waiting on them.
func (c *Collector) RemoveRequirements(ids []int64) {
	c.requiredMu.Lock()
	defer c.requiredMu.Unlock()
	for _, id := range ids {
		delete(c.required, id)
	}
}

func (c *Collector) pump() {
	defer close(c.pumpDone)
	for {
		select {
		case <-c.stopPump:
			return
		case id, ok := <-c.sub.Events():
			if !ok {
				return
			}
			c.handleCompletion(id)
		}
	}
}

// handleCompletion is the bus callback context (spec §4.5): it must
// not block indefinitely, so the cache fetch happens outside both
// locks and the required/available mutation is a single
// check-and-transfer under the fixed lock order (required, then
// available) to preclude deadlock against Wait's polling loop.
func (c *Collector) handleCompletion(id int64) {
	c.requiredMu.Lock()
	_, wanted := c.required[id]
	c.requiredMu.Unlock()
	if !wanted {
		return
	}

	result, err := c.cacheClient.Get(context.Background(), id, false)
	if err != nil {
		if c.log != nil {
			c.log.Error("collector: cache fetch failed for completed block", logging.Err(err), logging.Int("id", int(id)))
		}
		return
	}
	if !result.Found {
		// A completion fired but the cache has no payload: protocol
		// violation per spec §4.5 ("must be present: assertion ... is a
		// protocol violation"). We log loudly and leave the id required;
		// the owning request will eventually time out or hang, matching
		// the documented failure mode rather than silently recovering.
		if c.log != nil {
			c.log.Error("collector: cache protocol violation", logging.Err(apierr.CacheProtocolViolation("completion for block %d but cache holds no payload (placeholder=%v)", id, result.Placeholder)))
		}
		return
	}

	c.requiredMu.Lock()
	defer c.requiredMu.Unlock()
	if _, stillWanted := c.required[id]; !stillWanted {
		return // raced with a concurrent RemoveRequirements; already handled
	}
	delete(c.required, id)

	c.availableMu.Lock()
	c.available[id] = result.Payload
	c.availableMu.Unlock()
}

func (c *Collector) drainAvailable() {
	c.availableMu.Lock()
	defer c.availableMu.Unlock()
	for id, p := range c.available {
		c.accumulated[id] = p
		delete(c.available, id)
	}
}

func (c *Collector) isDone() bool {
	c.requiredMu.Lock()
	reqEmpty := len(c.required) == 0
	c.requiredMu.Unlock()

	c.availableMu.Lock()
	availEmpty := len(c.available) == 0
	c.availableMu.Unlock()

	return reqEmpty && availEmpty
}

// Wait blocks, cooperatively polling, until the required set and the
// available-but-unread set are both empty, then returns every payload
// this collector accumulated from the bus. It does not include
// payloads the caller already held locally via RemoveRequirements —
// the caller merges those itself (spec §4.8 step 7).
func (c *Collector) Wait(ctx context.Context) (map[int64]blockmodel.Payload, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		c.drainAvailable()
		if c.isDone() {
			return c.accumulated, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("collector: wait cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops the collector's pump goroutine. Call it once Wait
// returns (or the caller gives up waiting). It does not close the
// finished-block subscription; whoever opened it closes it.
func (c *Collector) Close() error {
	close(c.stopPump)
	<-c.pumpDone
	return nil
}
