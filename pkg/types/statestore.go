package types

// Permission represents an outstanding permission request surfaced to a
// client. Fed over the bus by an external tool-execution collaborator; the
// daemon only projects and orders these, it never decides them.
type Permission struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Question represents an outstanding clarifying question surfaced to a
// client, analogous to Permission.
type Question struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Prompt    string `json:"prompt"`
}

// SessionStatus is the busy/idle/retry projection exposed per session.
type SessionStatus string

const (
	SessionIdle  SessionStatus = "idle"
	SessionBusy  SessionStatus = "busy"
	SessionRetry SessionStatus = "retry"
)

// Identified is implemented by every entity the ordered-sequence container
// in internal/statestore can index by string id.
type Identified interface {
	Ident() string
}

func (s Session) Ident() string    { return s.ID }
func (m Message) Ident() string    { return m.ID }
func (t Todo) Ident() string       { return t.ID }
func (p Permission) Ident() string { return p.ID }
func (q Question) Ident() string   { return q.ID }
