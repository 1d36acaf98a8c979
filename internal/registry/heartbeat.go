package registry

import (
	"time"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// HeartbeatMonitor periodically scans the registry and forces any process
// past its heartbeat timeout offline.
type HeartbeatMonitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewHeartbeatMonitor creates a monitor scanning registry every interval,
// forcing offline any process whose heartbeat is older than timeout.
func NewHeartbeatMonitor(registry *Registry, interval, timeout time.Duration, now func() time.Time) *HeartbeatMonitor {
	if now == nil {
		now = time.Now
	}
	return &HeartbeatMonitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		now:      now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the scan loop in a background goroutine.
func (h *HeartbeatMonitor) Start() {
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Scan()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop halts the scan loop and waits for it to exit.
func (h *HeartbeatMonitor) Stop() {
	close(h.stop)
	<-h.done
}

// Scan runs one pass over the registry, forcing expired processes offline.
// Exported so tests can drive it deterministically without waiting on the
// ticker.
func (h *HeartbeatMonitor) Scan() {
	now := h.now()

	type expiry struct {
		id   string
		prev types.ProcessStatus
	}

	h.registry.mu.Lock()
	var expired []expiry
	for id, p := range h.registry.processes {
		if p.Status == types.StatusOffline {
			continue
		}
		age := now.Sub(time.UnixMilli(p.LastHeartbeat))
		if age > h.timeout {
			expired = append(expired, expiry{id: id, prev: p.Status})
			p.Status = types.StatusOffline
		}
	}
	h.registry.mu.Unlock()

	for _, e := range expired {
		h.registry.publish(eventbus.Event{
			Type: eventbus.ProcessOffline,
			Data: eventbus.ProcessOfflineData{ProcessID: e.id},
		})
		h.registry.publish(eventbus.Event{
			Type: eventbus.ProcessStatusChanged,
			Data: eventbus.ProcessStatusChangedData{ProcessID: e.id, Prev: e.prev, Status: types.StatusOffline},
		})
	}
}
