package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/ilastik/blockpipeline/internal/logging"
)

// finishedTopic is the single named channel every finished-block
// announcement is published on (spec §6: "One named channel").
const finishedTopic = "finished"

// FinishedPublisher broadcasts block-completion announcements. One
// publisher runs per classifier worker process (cmd/worker) and binds
// a PUB socket.
type FinishedPublisher struct {
	mu     sync.Mutex
	socket *zmq.Socket
}

// NewFinishedPublisher binds a PUB socket at endpoint.
func NewFinishedPublisher(endpoint string) (*FinishedPublisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("queue: creating finished PUB socket: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		return nil, fmt.Errorf("queue: binding finished PUB socket to %s: %w", endpoint, err)
	}
	return &FinishedPublisher{socket: socket}, nil
}

// Publish announces that block id's payload is now durable in the
// cache. Delivery is best-effort (spec §4.4): subscribers that
// connect after this call do not see it.
func (p *FinishedPublisher) Publish(id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := finishedTopic + " " + strconv.FormatInt(id, 10)
	if _, err := p.socket.Send(msg, 0); err != nil {
		return fmt.Errorf("queue: publishing completion for block %d: %w", id, err)
	}
	return nil
}

// Close releases the underlying socket.
func (p *FinishedPublisher) Close() error {
	return p.socket.Close()
}

// FinishedSubscription is one collector's live subscription to the
// finished-block bus. Completion collector protocol (spec §4.5)
// requires subscribing before probing the cache ("listener-first to
// avoid lost-wakeup"); constructing a FinishedSubscription is that
// subscribe step.
type FinishedSubscription struct {
	socket *zmq.Socket
	cancel context.CancelFunc
	events chan int64
	done   chan struct{}
}

// Subscribe connects a SUB socket to endpoint and starts delivering
// every completion announcement on the returned subscription's
// Events channel until Close is called.
func Subscribe(endpoint string, log logging.Logger) (*FinishedSubscription, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("queue: creating finished SUB socket: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		return nil, fmt.Errorf("queue: connecting finished SUB socket to %s: %w", endpoint, err)
	}
	if err := socket.SetSubscribe(finishedTopic); err != nil {
		return nil, fmt.Errorf("queue: subscribing to topic %q: %w", finishedTopic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &FinishedSubscription{
		socket: socket,
		cancel: cancel,
		events: make(chan int64, 256),
		done:   make(chan struct{}),
	}
	go sub.pump(ctx, log)
	return sub, nil
}

func (s *FinishedSubscription) pump(ctx context.Context, log logging.Logger) {
	defer close(s.done)
	poller := zmq.NewPoller()
	poller.Add(s.socket, zmq.POLLIN)

	for {
		if ctx.Err() != nil {
			return
		}
		polled, err := poller.Poll(pollInterval)
		if err != nil {
			if log != nil {
				log.Warn("queue: finished subscription poll error", logging.Err(err))
			}
			return
		}
		if len(polled) == 0 {
			continue
		}
		raw, err := s.socket.Recv(0)
		if err != nil {
			if log != nil {
				log.Warn("queue: finished subscription recv error", logging.Err(err))
			}
			continue
		}
		var topic string
		var id int64
		if _, err := fmt.Sscanf(raw, "%s %d", &topic, &id); err != nil {
			if log != nil {
				log.Warn("queue: malformed completion message", logging.String("raw", raw))
			}
			continue
		}
		select {
		case s.events <- id:
		case <-ctx.Done():
			return
		}
	}
}

// Events delivers one block id per completion announcement. The
// collector (package collector) is the sole consumer in this
// pipeline; it must not block while draining this channel (spec
// §4.5: "the bus delivers into a callback context that must not
// block").
func (s *FinishedSubscription) Events() <-chan int64 {
	return s.events
}

// Close unsubscribes and releases the socket.
func (s *FinishedSubscription) Close() error {
	s.cancel()
	<-s.done
	return s.socket.Close()
}
