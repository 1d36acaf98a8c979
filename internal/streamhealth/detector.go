package streamhealth

import (
	"time"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// CheckForStall runs one tick of the spec.md §4.3.3 stall algorithm against
// the monitor's current state. Returns false (and does nothing) once the
// monitor has reached a terminal state, per the "monitor terminality"
// invariant.
func (m *Monitor) CheckForStall() bool {
	m.mu.Lock()
	if m.status != types.StreamStreaming {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	elapsed := now.Sub(msToTime(m.timing.LastEventAt))
	elapsedSinceMeaningful := now.Sub(msToTime(m.timing.LastMeaningfulAt))
	elapsedSinceStart := now.Sub(msToTime(m.timing.StartedAt))

	// 2. Hard timeout: no event at all within stallTimeoutMs.
	if elapsed >= m.thresholds.StreamStallTimeout {
		m.status = types.StreamTimeout
		completedAt := now.UnixMilli()
		m.timing.CompletedAt = &completedAt
		report := m.reportLocked()
		m.mu.Unlock()
		m.publish(eventbus.Event{Type: eventbus.StreamTimeout, Data: eventbus.StreamEventData{Report: report}})
		return true
	}

	// 3. Extended-thinking: events keep arriving (elapsed < stallWarningMs)
	// but none has been meaningful for a long time.
	isExtendedThinking := m.progress.EventsReceived > 10 && elapsed < m.thresholds.StreamStallWarning
	if isExtendedThinking && elapsedSinceMeaningful >= m.thresholds.StreamNoContentTimeout {
		m.status = types.StreamTimeout
		completedAt := now.UnixMilli()
		m.timing.CompletedAt = &completedAt
		report := m.reportLocked()
		m.mu.Unlock()
		m.publish(eventbus.Event{Type: eventbus.StreamTimeout, Data: eventbus.StreamEventData{Report: report}})
		return true
	}
	if isExtendedThinking && elapsedSinceMeaningful >= m.thresholds.StreamStallTimeout && !m.thinkingWarnEmitted {
		m.thinkingWarnEmitted = true
		report := m.reportLocked()
		m.mu.Unlock()
		m.publish(eventbus.Event{Type: eventbus.StreamStallWarning, Data: eventbus.StreamEventData{Report: report, Reason: "thinking_no_output"}})
		m.mu.Lock()
	}

	// 4. Slow start: nothing meaningful has arrived since the stream began.
	hasMeaningfulContent := m.progress.TextDeltaEvents > 0 || m.progress.ToolCallEvents > 0
	if elapsedSinceStart >= m.thresholds.StreamEarlyStall && !hasMeaningfulContent && !m.earlyWarningEmitted {
		m.earlyWarningEmitted = true
		report := m.reportLocked()
		m.mu.Unlock()
		m.publish(eventbus.Event{Type: eventbus.StreamStallWarning, Data: eventbus.StreamEventData{Report: report, Reason: "slow_start"}})
		m.mu.Lock()
	}

	// 5/6. Stall warning, or the routine progress heartbeat.
	if elapsed >= m.thresholds.StreamStallWarning && !m.stallWarningEmitted {
		m.stallWarnings++
		m.isStalled = true
		m.stallWarningEmitted = true
		report := m.reportLocked()
		m.mu.Unlock()
		m.publish(eventbus.Event{Type: eventbus.StreamStallWarning, Data: eventbus.StreamEventData{Report: report, Reason: "stall_warning"}})
		return true
	}
	if m.progress.EventsReceived > 0 && !m.stallWarningEmitted {
		report := m.reportLocked()
		m.mu.Unlock()
		m.publish(eventbus.Event{Type: eventbus.StreamStallWarning, Data: eventbus.StreamEventData{Report: report, Reason: "routine"}})
		return true
	}

	m.mu.Unlock()
	return true
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// Detector polls every monitor in a Registry on a fixed interval, driving
// each one's CheckForStall. The stall detector itself never performs I/O
// beyond publishing events, per spec.md §5.
type Detector struct {
	registry *Registry
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewDetector creates a Detector polling registry every interval.
func NewDetector(registry *Registry, interval time.Duration) *Detector {
	return &Detector{
		registry: registry,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop in a background goroutine.
func (d *Detector) Start() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.registry.ForEach(func(m *Monitor) { m.CheckForStall() })
			case <-d.stop:
				return
			}
		}
	}()
}

// Stop halts the polling loop and waits for it to exit.
func (d *Detector) Stop() {
	close(d.stop)
	<-d.done
}
