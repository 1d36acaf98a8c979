package types

import "encoding/json"

// PartKind enumerates the kinds of message part a session can produce.
type PartKind string

const (
	PartText           PartKind = "text"
	PartReasoning      PartKind = "reasoning"
	PartToolInvocation PartKind = "tool-invocation"
	PartFileAttachment PartKind = "file-attachment"
	PartSnapshot       PartKind = "snapshot"
)

// ToolInvocationState is the lifecycle state of a tool-invocation part.
type ToolInvocationState string

const (
	ToolPending   ToolInvocationState = "pending"
	ToolRunning   ToolInvocationState = "running"
	ToolCompleted ToolInvocationState = "completed"
	ToolFailed    ToolInvocationState = "failed"
)

// Part represents a component of a message. All parts carry session and
// message identifiers so they can be routed and ordered independent of their
// concrete kind.
type Part interface {
	PartKind() PartKind
	PartID() string
	PartSessionID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
type TextPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      PartKind `json:"type"`
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartKind() PartKind     { return PartText }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

// ReasoningPart represents extended thinking/reasoning content.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      PartKind `json:"type"`
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartKind() PartKind  { return PartReasoning }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

// ToolPart represents a tool invocation and its result.
type ToolPart struct {
	ID        string              `json:"id"`
	SessionID string              `json:"sessionID"`
	MessageID string              `json:"messageID"`
	Type      PartKind            `json:"type"`
	CallID    string              `json:"callID"`
	Tool      string              `json:"tool"`
	Input     map[string]any      `json:"input,omitempty"`
	State     ToolInvocationState `json:"state"`
	Output    *string             `json:"output,omitempty"`
	Error     *string             `json:"error,omitempty"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	Time      PartTime            `json:"time,omitempty"`
}

func (p *ToolPart) PartKind() PartKind     { return PartToolInvocation }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

// FilePart represents a file attachment.
type FilePart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      PartKind `json:"type"`
	Filename  string   `json:"filename"`
	MediaType string   `json:"mediaType"`
	URL       string   `json:"url"`
}

func (p *FilePart) PartKind() PartKind     { return PartFileAttachment }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartSessionID() string { return p.SessionID }
func (p *FilePart) PartMessageID() string { return p.MessageID }

// SnapshotPart captures a point-in-time workspace snapshot reference.
type SnapshotPart struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"sessionID"`
	MessageID  string   `json:"messageID"`
	Type       PartKind `json:"type"`
	SnapshotID string   `json:"snapshotID"`
}

func (p *SnapshotPart) PartKind() PartKind     { return PartSnapshot }
func (p *SnapshotPart) PartID() string        { return p.ID }
func (p *SnapshotPart) PartSessionID() string { return p.SessionID }
func (p *SnapshotPart) PartMessageID() string { return p.MessageID }

// rawPart is used for JSON unmarshaling of parts of unknown concrete type.
type rawPart struct {
	ID   string          `json:"id"`
	Type PartKind        `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalPart unmarshals a JSON part into the appropriate concrete type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw rawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case PartText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartReasoning:
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartToolInvocation:
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartFileAttachment:
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartSnapshot:
		var p SnapshotPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, &UnknownPartKindError{Kind: string(raw.Type)}
	}
}

// UnknownPartKindError is returned by UnmarshalPart for an unrecognized kind.
type UnknownPartKindError struct {
	Kind string
}

func (e *UnknownPartKindError) Error() string {
	return "types: unknown part kind " + e.Kind
}
