package eventbus

import "github.com/opencode-ai/sessiond/pkg/types"

// EventType identifies a published event's topic.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"
	SessionDeleted EventType = "session.deleted"
	SessionStatus  EventType = "session.status"
	SessionIdle    EventType = "session.idle"
	SessionDiff    EventType = "session.diff"

	MessageUpdated     EventType = "message.updated"
	MessageRemoved     EventType = "message.removed"
	MessagePartUpdated EventType = "message.part.updated"
	MessagePartRemoved EventType = "message.part.removed"

	TodoUpdated EventType = "todo.updated"

	PermissionAsked   EventType = "permission.asked"
	PermissionReplied EventType = "permission.replied"

	QuestionAsked    EventType = "question.asked"
	QuestionReplied  EventType = "question.replied"
	QuestionRejected EventType = "question.rejected"

	LSPUpdated     EventType = "lsp.updated"
	VCSBranchUpdated EventType = "vcs.branch.updated"

	// McpEvent and ProviderEvent are generic pass-through topics: the daemon
	// itself has no MCP or provider client, but external collaborators that
	// do may publish onto the bus under these topics for the state store to
	// project.
	McpEvent      EventType = "mcp.event"
	ProviderEvent EventType = "provider.event"

	ProcessRegistered   EventType = "process.registered"
	ProcessDeregistered EventType = "process.deregistered"
	ProcessHeartbeat    EventType = "process.heartbeat"
	ProcessStatusChanged EventType = "process.status_changed"
	ProcessOffline      EventType = "process.offline"
	ProcessEvent        EventType = "process.event"

	StreamStallWarning EventType = "stream.stall_warning"
	StreamTimeout      EventType = "stream.timeout"
	StreamCompleted    EventType = "stream.completed"
	StreamFailed       EventType = "stream.failed"

	ServerInstanceDisposed EventType = "server.instance.disposed"
)

// Event is a single published message: a topic plus its payload.
type Event struct {
	Type EventType `json:"type"`
	Data any        `json:"data"`
}

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	SessionID string            `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
}

// SessionIdleData is the data for session.idle events.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// SessionDiffData is the data for session.diff events.
type SessionDiffData struct {
	SessionID string          `json:"sessionID"`
	Summary   types.SessionSummary `json:"summary"`
}

// MessageUpdatedData is the data for message.updated events.
type MessageUpdatedData struct {
	Info *types.Message `json:"info"`
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// MessagePartUpdatedData is the data for message.part.updated events.
type MessagePartUpdatedData struct {
	Part  types.Part `json:"part"`
	Delta string     `json:"delta,omitempty"`
}

// MessagePartRemovedData is the data for message.part.removed events.
type MessagePartRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
}

// TodoUpdatedData is the data for todo.updated events.
type TodoUpdatedData struct {
	SessionID string       `json:"sessionID"`
	Todos     []types.Todo `json:"todos"`
}

// PermissionAskedData is the data for permission.asked events.
type PermissionAskedData struct {
	Permission types.Permission `json:"permission"`
}

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	PermissionID string `json:"permissionID"`
	SessionID    string `json:"sessionID"`
	Response     string `json:"response"` // "once" | "always" | "reject"
}

// QuestionAskedData is the data for question.asked events.
type QuestionAskedData struct {
	Question types.Question `json:"question"`
}

// QuestionRepliedData is the data for question.replied events.
type QuestionRepliedData struct {
	QuestionID string `json:"questionID"`
	SessionID  string `json:"sessionID"`
	Answer     string `json:"answer"`
}

// QuestionRejectedData is the data for question.rejected events.
type QuestionRejectedData struct {
	QuestionID string `json:"questionID"`
	SessionID  string `json:"sessionID"`
}

// ProcessRegisteredData is the data for process.registered events.
type ProcessRegisteredData struct {
	Process *types.Process `json:"process"`
}

// ProcessDeregisteredData is the data for process.deregistered events.
type ProcessDeregisteredData struct {
	ProcessID string `json:"processID"`
}

// ProcessHeartbeatData is the data for process.heartbeat events.
type ProcessHeartbeatData struct {
	ProcessID string `json:"processID"`
	At        int64  `json:"at"`
}

// ProcessStatusChangedData is the data for process.status_changed events.
// Prev is the status transitioned from, per spec.md §4.4.1/§4.4.2's
// status_changed(prev->status) description.
type ProcessStatusChangedData struct {
	ProcessID string             `json:"processID"`
	Prev      types.ProcessStatus `json:"prev"`
	Status    types.ProcessStatus `json:"status"`
}

// ProcessOfflineData is the data for process.offline events.
type ProcessOfflineData struct {
	ProcessID string `json:"processID"`
}

// LSPUpdatedData is the data for lsp.updated events.
type LSPUpdatedData struct {
	Server types.LSPServerState `json:"server"`
}

// VCSBranchUpdatedData is the data for vcs.branch.updated events.
type VCSBranchUpdatedData struct {
	Branch types.VCSBranch `json:"branch"`
}

// StreamEventData is shared by stream.* events. Reason distinguishes the
// sub-kind of a non-terminal stream.stall_warning publish (spec.md §4.3.3
// enumerates several distinct status publishes that all flow through that
// one topic: "slow_start", "thinking_no_output", "stall_warning",
// "stall_cleared", "thinking", "routine"); terminal events
// (stream.timeout/completed/failed) leave Reason empty.
type StreamEventData struct {
	Report types.StreamHealthReport `json:"report"`
	Reason string                   `json:"reason,omitempty"`
}
