// Package streamhealth supervises long-running LLM streams event-by-event,
// classifying stalls and extended-thinking pathologies and publishing
// structured status over the event bus so an upstream consumer can cancel a
// stream that will never make progress.
package streamhealth

import (
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/sessiond/internal/config"
	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/internal/logging"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// Publisher is the narrow slice of the event bus a Monitor needs. Tests
// supply a capturing fake; production wires eventbus.Publish.
type Publisher func(eventbus.Event)

// Monitor supervises a single (sessionID, messageID) stream. The zero value
// is not usable; construct with New.
type Monitor struct {
	sessionID string
	messageID string

	thresholds config.Thresholds
	now        func() time.Time
	publish    Publisher

	mu       sync.Mutex
	status   types.StreamStatus // streaming is the only non-terminal value
	phase    types.StreamPhase
	timing   types.StreamTiming
	progress types.StreamProgress

	lastEventKind string
	stallWarnings int
	isStalled     bool
	errMsg        string

	stallWarningEmitted   bool
	earlyWarningEmitted   bool
	thinkingWarnEmitted   bool
	lastThinkingPublishAt time.Time
}

// New creates a Monitor for (sessionID, messageID) in the streaming state.
// now defaults to time.Now; publish defaults to eventbus.Publish.
func New(sessionID, messageID string, thresholds config.Thresholds, publish Publisher, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	if publish == nil {
		publish = eventbus.Publish
	}
	start := now()
	return &Monitor{
		sessionID:  sessionID,
		messageID:  messageID,
		thresholds: thresholds,
		now:        now,
		publish:    publish,
		status:     types.StreamStreaming,
		phase:      types.PhaseStarting,
		timing: types.StreamTiming{
			StartedAt:        start.UnixMilli(),
			LastEventAt:      start.UnixMilli(),
			LastMeaningfulAt: start.UnixMilli(),
		},
	}
}

// classify reports whether kind counts as meaningful content production and
// the phase it advances the monitor to, per spec.md §4.3.2. An empty phase
// return means "leave the phase unchanged".
func classify(kind string, current types.StreamPhase) (meaningful bool, phase types.StreamPhase) {
	switch kind {
	case "text-delta":
		return true, types.PhaseGenerating
	case "tool-call", "tool-result", "tool-input-start":
		return true, types.PhaseToolCalling
	default:
		if strings.HasPrefix(kind, "reasoning") {
			if current == types.PhaseStarting || current == types.PhaseThinking {
				return false, types.PhaseThinking
			}
			return false, ""
		}
		return false, ""
	}
}

// RecordEvent ingests one stream event. Ignored once the monitor has
// reached a terminal state. Clears the stall-warning flag unconditionally,
// and if a stall warning was being displayed, immediately publishes a
// isStalled:false status to clear it.
func (m *Monitor) RecordEvent(kind string, bytes int) {
	m.mu.Lock()
	if m.status != types.StreamStreaming {
		m.mu.Unlock()
		return
	}

	now := m.now()
	wasWarned := m.isStalled

	m.progress.EventsReceived++
	m.progress.BytesReceived += int64(bytes)
	m.timing.LastEventAt = now.UnixMilli()
	m.lastEventKind = kind

	meaningful, phase := classify(kind, m.phase)
	if phase != "" {
		m.phase = phase
	}
	if meaningful {
		m.timing.LastMeaningfulAt = now.UnixMilli()
	}

	m.stallWarningEmitted = false
	m.isStalled = false

	hasContentYet := m.progress.TextDeltaEvents > 0 || m.progress.ToolCallEvents > 0
	if meaningful {
		if kind == "text-delta" {
			m.progress.TextDeltaEvents++
		} else {
			m.progress.ToolCallEvents++
		}
	}

	isReasoning := strings.HasPrefix(kind, "reasoning")
	report := m.reportLocked()
	shouldThink := isReasoning && !hasContentYet
	thinkThrottleOK := now.Sub(m.lastThinkingPublishAt) >= time.Second
	if shouldThink {
		report.IsThinking = true
	}
	m.mu.Unlock()

	if wasWarned {
		cleared := report
		cleared.IsStalled = false
		m.publish(eventbus.Event{
			Type: eventbus.StreamStallWarning,
			Data: eventbus.StreamEventData{Report: cleared, Reason: "stall_cleared"},
		})
	}
	if shouldThink && thinkThrottleOK {
		m.mu.Lock()
		m.lastThinkingPublishAt = now
		m.mu.Unlock()
		m.publish(eventbus.Event{
			Type: eventbus.StreamStallWarning,
			Data: eventbus.StreamEventData{Report: report, Reason: "thinking"},
		})
	}
}

// Complete transitions the monitor to completed and publishes the final
// report. A no-op once terminal.
func (m *Monitor) Complete() {
	m.mu.Lock()
	if m.status != types.StreamStreaming {
		m.mu.Unlock()
		return
	}
	now := m.now().UnixMilli()
	m.status = types.StreamCompleted
	m.timing.CompletedAt = &now
	suspicious := m.progress.EventsReceived < 5 || (m.progress.TextDeltaEvents+m.progress.ToolCallEvents == 0)
	report := m.reportLocked()
	report.SuspiciousFinish = suspicious
	m.mu.Unlock()

	if suspicious {
		logSuspiciousCompletion(report)
	}
	m.publish(eventbus.Event{Type: eventbus.StreamCompleted, Data: eventbus.StreamEventData{Report: report}})
}

// Fail transitions the monitor to error and publishes the final report. A
// no-op once terminal.
func (m *Monitor) Fail(errMsg string) {
	m.mu.Lock()
	if m.status != types.StreamStreaming {
		m.mu.Unlock()
		return
	}
	now := m.now().UnixMilli()
	m.status = types.StreamError
	m.timing.CompletedAt = &now
	m.errMsg = errMsg
	report := m.reportLocked()
	m.mu.Unlock()

	m.publish(eventbus.Event{Type: eventbus.StreamFailed, Data: eventbus.StreamEventData{Report: report}})
}

// Terminal reports whether the monitor has reached completed, error, or
// timeout.
func (m *Monitor) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status != types.StreamStreaming
}

// logSuspiciousCompletion is observability-only per spec.md §9's open
// question: it never triggers a retry, only a warn-level log line.
func logSuspiciousCompletion(report types.StreamHealthReport) {
	logging.Warn().
		Str("session_id", report.SessionID).
		Str("message_id", report.MessageID).
		Int("events_received", report.Progress.EventsReceived).
		Msg("suspicious stream completion: few events or no content produced")
}
