package streamhealth

import "github.com/opencode-ai/sessiond/pkg/types"

// Report returns a snapshot of the monitor's current state, matching
// spec.md §3's Stream Health Report entity.
func (m *Monitor) Report() types.StreamHealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportLocked()
}

// reportLocked builds the report under m.mu. Status surfaces the transient
// "stalled" fold-back sub-state for display even though the monitor's own
// progression (m.status) only ever advances streaming -> completed|error|
// timeout, per the spec's no-reverse-transitions invariant.
func (m *Monitor) reportLocked() types.StreamHealthReport {
	status := m.status
	if status == types.StreamStreaming && m.isStalled {
		status = types.StreamStalled
	}
	report := types.StreamHealthReport{
		SessionID:     m.sessionID,
		MessageID:     m.messageID,
		Status:        status,
		Phase:         m.phase,
		Timing:        m.timing,
		Progress:      m.progress,
		LastEventKind: m.lastEventKind,
		StallWarnings: m.stallWarnings,
		Error:         m.errMsg,
		IsStalled:     m.isStalled,
	}
	report.SuspiciousFinish = m.status == types.StreamCompleted &&
		(m.progress.EventsReceived < 5 || m.progress.TextDeltaEvents+m.progress.ToolCallEvents == 0)
	return report
}
