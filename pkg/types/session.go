// Package types provides the core data types shared across the daemon's
// persistence, stream-health, registry and state-store subsystems.
package types

// Session represents a conversation session with the LLM.
type Session struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"projectID"`
	Directory string         `json:"directory"`
	Slug      string         `json:"slug"`
	ParentID  *string        `json:"parentID,omitempty"`
	Title     string         `json:"title"`
	Summary   SessionSummary `json:"summary"`
	Share     *SessionShare  `json:"share,omitempty"`
	Time      SessionTime    `json:"time"`
}

// SessionSummary contains statistics about code changes in a session.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
	Archived *int64 `json:"archived,omitempty"`
}

// SessionShare contains sharing information for a session.
type SessionShare struct {
	URL string `json:"url"`
}
