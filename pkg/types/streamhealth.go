package types

// StreamStatus is the lifecycle status of a monitored LLM stream.
type StreamStatus string

const (
	StreamStreaming StreamStatus = "streaming"
	StreamCompleted StreamStatus = "completed"
	StreamError     StreamStatus = "error"
	StreamStalled   StreamStatus = "stalled"
	StreamTimeout   StreamStatus = "timeout"
)

// StreamPhase is an informational annotation of what the stream is doing,
// not a state-machine state: it never drives a transition by itself.
type StreamPhase string

const (
	PhaseStarting    StreamPhase = "starting"
	PhaseThinking    StreamPhase = "thinking"
	PhaseToolCalling StreamPhase = "tool_calling"
	PhaseGenerating  StreamPhase = "generating"
)

// StreamTiming tracks the timestamps a stall detector needs.
type StreamTiming struct {
	StartedAt           int64  `json:"startedAt"`
	LastEventAt         int64  `json:"lastEventAt"`
	LastMeaningfulAt     int64 `json:"lastMeaningfulAt"`
	CompletedAt          *int64 `json:"completedAt,omitempty"`
}

// StreamProgress tracks content-production counters.
type StreamProgress struct {
	EventsReceived  int   `json:"eventsReceived"`
	TextDeltaEvents int   `json:"textDeltaEvents"`
	ToolCallEvents  int   `json:"toolCallEvents"`
	BytesReceived   int64 `json:"bytesReceived"`
}

// StreamHealthReport is the published shape of a stream monitor's state.
type StreamHealthReport struct {
	SessionID        string         `json:"sessionID"`
	MessageID        string         `json:"messageID"`
	Status           StreamStatus   `json:"status"`
	Phase            StreamPhase    `json:"phase"`
	Timing           StreamTiming   `json:"timing"`
	Progress         StreamProgress `json:"progress"`
	LastEventKind    string         `json:"lastEventKind,omitempty"`
	StallWarnings    int            `json:"stallWarnings"`
	Error            string         `json:"error,omitempty"`
	SuspiciousFinish bool           `json:"suspiciousFinish,omitempty"`

	// IsStalled/IsThinking are transient UI-facing flags: IsStalled mirrors
	// the monitor's fold-back "stalled" sub-state (spec: Status itself only
	// ever progresses streaming -> completed|error|timeout), IsThinking
	// marks reasoning activity observed before any content has arrived.
	IsStalled bool `json:"isStalled,omitempty"`
	IsThinking bool `json:"isThinking,omitempty"`
}
