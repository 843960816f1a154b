package worker

import (
	"sync"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/blocking"
)

// config is the immutable snapshot installed by Setup (spec §9's
// redesign note: "re-architect as an immutable configuration value
// ... constructed once in the /setup path behind a mutex, and held by
// reference for the lifetime of the process").
type config struct {
	grid       *blocking.Grid
	blockShape blockmodel.Coord
	dtype      blockmodel.DType
}

// configHolder guards the current config snapshot, or nil before the
// first successful /setup.
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
