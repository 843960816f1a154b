package gateway

import (
	"sync"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/blocking"
)

// config is the gateway's immutable configuration snapshot, installed
// by Setup and held by reference for the process lifetime (same
// redesign as worker.config, spec §9).
type config struct {
	grid           *blocking.Grid
	blockShape     blockmodel.Coord
	rawDType       blockmodel.DType
	numClasses     int
	dim            blockmodel.Dim
	workerEndpoint string
}

type configHolder struct {
	mu  sync.RWMutex
	cur *config
}

func (h *configHolder) get() (*config, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur, h.cur != nil
}

func (h *configHolder) set(c *config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = c
}
