package types

// WALOperation identifies the kind of operation a WAL entry records.
type WALOperation string

const (
	OpSessionCreate   WALOperation = "session-create"
	OpSessionUpdate   WALOperation = "session-update"
	OpMessageCreate   WALOperation = "message-create"
	OpTodoUpdate      WALOperation = "todo-update"
	OpSessionActivate WALOperation = "session-activate"
)

// WALEntry is a single durable, append-only journal record. Payload is kept
// as a raw JSON-compatible value (rather than a closed Go interface) so the
// WAL file format is a plain line-delimited JSON stream.
type WALEntry struct {
	Timestamp int64        `json:"timestamp"`
	Operation WALOperation `json:"operation"`
	Payload   any          `json:"payload"`
}

// CheckpointMetadata describes one checkpoint directory.
type CheckpointMetadata struct {
	ID           string `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	SessionCount int    `json:"sessionCount"`
	TodoCount    int    `json:"todoCount"`
}

// SessionTodos pairs a session with its todos for checkpoint snapshots.
type SessionTodos struct {
	Session Session `json:"session"`
	Todos   []Todo  `json:"todos"`
}

// LastActiveEntry records, per persona, which session/chat is currently
// active. Persona is set when the entry is part of a flat list (e.g. a
// checkpoint snapshot or recovery payload); the on-disk last-active.json
// file itself is keyed by persona, with Persona implicit in the map key.
type LastActiveEntry struct {
	Persona   Persona `json:"persona,omitempty"`
	SessionID string  `json:"sessionID"`
	ChatID    *string `json:"chatID,omitempty"`
	UpdatedAt int64   `json:"updatedAt"`
}

// DailySessionRecord is keyed by (persona, date) and reserves at most one
// session per persona per day.
type DailySessionRecord struct {
	SessionID string  `json:"sessionID"`
	ChatID    *string `json:"chatID,omitempty"`
	CreatedAt int64   `json:"createdAt"`
}

// SessionContextEntry is a single memory entry attached to a session, capped
// at 100 per session on write.
type SessionContextEntry struct {
	Timestamp int64    `json:"timestamp"`
	Memories  []string `json:"memories"`
}
