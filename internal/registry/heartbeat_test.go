package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// Scenario 6: process offline transition.
func TestHeartbeatMonitorMarksOffline(t *testing.T) {
	r, clock, events := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent})

	hm := NewHeartbeatMonitor(r, time.Second, 30*time.Second, clock.Now)

	clock.Advance(29 * time.Second)
	hm.Scan()
	assert.Equal(t, types.StatusActive, r.Get("p1").Status)

	clock.Advance(2 * time.Second) // now 31s since registration/last heartbeat
	hm.Scan()
	assert.Equal(t, types.StatusOffline, r.Get("p1").Status)

	var offlineCount, statusChangedToOffline int
	for _, e := range events() {
		if e.Type == eventbus.ProcessOffline {
			offlineCount++
		}
		if e.Type == eventbus.ProcessStatusChanged {
			if d, ok := e.Data.(eventbus.ProcessStatusChangedData); ok && d.Status == types.StatusOffline {
				statusChangedToOffline++
			}
		}
	}
	require.Equal(t, 1, offlineCount)
	require.Equal(t, 1, statusChangedToOffline)

	// Subsequent heartbeat restores active and its own status_changed.
	r.Heartbeat("p1")
	assert.Equal(t, types.StatusActive, r.Get("p1").Status)
}

func TestHeartbeatMonitorDoesNotRepeatOffline(t *testing.T) {
	r, clock, events := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent})
	hm := NewHeartbeatMonitor(r, time.Second, 30*time.Second, clock.Now)

	clock.Advance(31 * time.Second)
	hm.Scan()
	hm.Scan()
	hm.Scan()

	offlineCount := 0
	for _, e := range events() {
		if e.Type == eventbus.ProcessOffline {
			offlineCount++
		}
	}
	assert.Equal(t, 1, offlineCount)
}
