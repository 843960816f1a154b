// Package queue implements the task/finished dual-queue message bus
// (spec §4.3/§4.4) over ZeroMQ: a PUSH/PULL task queue gives
// competing-consumer fan-out for free, and a PUB/SUB finished-block
// bus gives broadcast fan-out. This is the broker-backed bus variant
// spec §9 allows; the registry-KV polling variant is documented, not
// implemented, in DESIGN.md.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/ilastik/blockpipeline/internal/logging"
)

// pollInterval bounds how promptly a blocking Recv loop notices ctx
// cancellation.
const pollInterval = 200 * time.Millisecond

// TaskProducer enqueues block-compute tasks. One producer runs inside
// the gateway process and binds a PUSH socket; every worker connects
// a PULL socket to it, so ZeroMQ's own round-robin fair-queueing gives
// the "each task to exactly one subscriber" contract (spec §4.3)
// without any broker-side bookkeeping.
type TaskProducer struct {
	mu     sync.Mutex
	socket *zmq.Socket
	log    logging.Logger
}

// NewTaskProducer binds a PUSH socket at endpoint (e.g. "tcp://*:5557").
func NewTaskProducer(endpoint string, log logging.Logger) (*TaskProducer, error) {
	socket, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, fmt.Errorf("queue: creating task PUSH socket: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		return nil, fmt.Errorf("queue: binding task PUSH socket to %s: %w", endpoint, err)
	}
	return &TaskProducer{socket: socket, log: log}, nil
}

// Enqueue appends a task for block id. ZeroMQ's PUSH socket queues
// in-memory up to its high-water mark. There is no acknowledgement
// or redelivery: a task is delivered at most once, and tasks still
// queued in memory are lost when the process exits.
func (p *TaskProducer) Enqueue(id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.socket.Send(strconv.FormatInt(id, 10), 0); err != nil {
		return fmt.Errorf("queue: enqueueing task %d: %w", id, err)
	}
	return nil
}

// Close releases the underlying socket.
func (p *TaskProducer) Close() error {
	return p.socket.Close()
}

// TaskConsumer is one classifier worker's task subscription. No
// receive high-water mark is set, so prefetch is not limited to 1:
// the producer's PUSH socket round-robins tasks to connected PULL
// sockets as they are sent, and each may queue several ahead of Recv.
type TaskConsumer struct {
	socket *zmq.Socket
	log    logging.Logger
}

// NewTaskConsumer connects a PULL socket to endpoint.
func NewTaskConsumer(endpoint string, log logging.Logger) (*TaskConsumer, error) {
	socket, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		return nil, fmt.Errorf("queue: creating task PULL socket: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		return nil, fmt.Errorf("queue: connecting task PULL socket to %s: %w", endpoint, err)
	}
	return &TaskConsumer{socket: socket, log: log}, nil
}

// Next blocks until a task is available or ctx is cancelled. Ordering
// is not guaranteed (spec §4.3). Internally this polls with a bounded
// timeout so ctx cancellation is noticed promptly without leaking a
// goroutine blocked in Recv.
func (c *TaskConsumer) Next(ctx context.Context) (int64, error) {
	poller := zmq.NewPoller()
	poller.Add(c.socket, zmq.POLLIN)

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		polled, err := poller.Poll(pollInterval)
		if err != nil {
			return 0, fmt.Errorf("queue: polling task socket: %w", err)
		}
		if len(polled) == 0 {
			continue
		}
		raw, err := c.socket.Recv(0)
		if err != nil {
			return 0, fmt.Errorf("queue: receiving task: %w", err)
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("queue: malformed task payload %q: %w", raw, err)
		}
		return id, nil
	}
}

// Close releases the underlying socket.
func (c *TaskConsumer) Close() error {
	return c.socket.Close()
}
