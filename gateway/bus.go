package gateway

import (
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/queue"
)

// queueBus is the production finishedBus: every inbound prediction
// request opens its own SUB subscription (spec §4.5 listener-first
// protocol requires a fresh subscribe per request, not a shared one).
type queueBus struct {
	endpoint string
	log      logging.Logger
}

// NewQueueBus binds Subscribe to a ZeroMQ finished-block bus endpoint.
func NewQueueBus(endpoint string, log logging.Logger) finishedBus {
	return &queueBus{endpoint: endpoint, log: log}
}

func (b *queueBus) Subscribe() (finishedSub, error) {
	return queue.Subscribe(b.endpoint, b.log)
}
