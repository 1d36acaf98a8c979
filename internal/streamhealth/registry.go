package streamhealth

import (
	"sync"
	"time"

	"github.com/opencode-ai/sessiond/internal/config"
)

type monitorKey struct {
	sessionID string
	messageID string
}

// Registry is the process-wide index of stream monitors, keyed by
// (sessionID, messageID). It is a weak lookup reference, not an owner: the
// stream that created a monitor must call Release when done with it.
type Registry struct {
	mu         sync.Mutex
	monitors   map[monitorKey]*Monitor
	thresholds config.Thresholds
	now        func() time.Time
	publish    Publisher
}

// NewRegistry creates an empty Registry. now/publish default to time.Now
// and eventbus.Publish if nil.
func NewRegistry(thresholds config.Thresholds, publish Publisher, now func() time.Time) *Registry {
	return &Registry{
		monitors:   make(map[monitorKey]*Monitor),
		thresholds: thresholds,
		now:        now,
		publish:    publish,
	}
}

// GetOrCreate returns the existing monitor for (sessionID, messageID) if
// present, else creates and indexes a new one. Idempotent: concurrent
// callers with the same key observe the same monitor.
func (r *Registry) GetOrCreate(sessionID, messageID string) *Monitor {
	key := monitorKey{sessionID, messageID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.monitors[key]; ok {
		return m
	}
	m := New(sessionID, messageID, r.thresholds, r.publish, r.now)
	r.monitors[key] = m
	return m
}

// Get returns the monitor for (sessionID, messageID), if any.
func (r *Registry) Get(sessionID, messageID string) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[monitorKey{sessionID, messageID}]
	return m, ok
}

// Release drops the monitor for (sessionID, messageID) from the index. The
// owning stream calls this once it no longer needs the monitor looked up.
func (r *Registry) Release(sessionID, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.monitors, monitorKey{sessionID, messageID})
}

// ForEach calls fn with a stable snapshot of every currently indexed
// monitor. Used by Detector; fn must not call back into the Registry.
func (r *Registry) ForEach(fn func(*Monitor)) {
	r.mu.Lock()
	snapshot := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		snapshot = append(snapshot, m)
	}
	r.mu.Unlock()

	for _, m := range snapshot {
		fn(m)
	}
}

// Clear disposes all monitors, releasing the index entirely. Used on daemon
// shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors = make(map[monitorKey]*Monitor)
}

// Len reports the number of currently indexed monitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}
