package telemetry

import (
	"sync"

	"github.com/adaharness/ada/internal/event"
)

// statusCache mirrors the scheduler's most recent status.updated event so
// GET /api/status can answer instantly without round-tripping through the
// scheduler itself — the telemetry API is a passive observer of the event
// bus, never a caller into the scheduler.
type statusCache struct {
	mu    sync.RWMutex
	state event.StatusUpdatedData
	seen  bool
}

func newStatusCache() *statusCache {
	return &statusCache{state: event.StatusUpdatedData{State: "idle"}}
}

func (c *statusCache) subscribe() func() {
	return event.Subscribe(event.StatusUpdated, func(e event.Event) {
		data, ok := e.Data.(event.StatusUpdatedData)
		if !ok {
			return
		}
		c.mu.Lock()
		c.state = data
		c.seen = true
		c.mu.Unlock()
	})
}

func (c *statusCache) get() event.StatusUpdatedData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
