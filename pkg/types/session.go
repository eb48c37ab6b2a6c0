// Package types provides the core data types for the pair-review sync layer.
package types

// Session represents one logical chat conversation with the review assistant.
type Session struct {
	ID       string          `json:"id"`
	ReviewID string          `json:"reviewID"`
	Status   string          `json:"status"`
	Context  *SessionContext `json:"context,omitempty"`
	Time     SessionTime     `json:"time"`
}

// SessionContext summarizes analysis context preloaded into a session.
// A positive SuggestionCount means suggestions are ready and should be
// surfaced as an introductory card.
type SessionContext struct {
	SuggestionCount int    `json:"suggestionCount"`
	Summary         string `json:"summary,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Message is one entry in a session's append-only conversation record.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      string `json:"role"` // "user" | "assistant"
	Content   string `json:"content"`
	Time      MessageTime `json:"time"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64 `json:"created"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
