package types

// EventType tags a StreamEvent frame.
type EventType string

// Stream event types. Progress is only used on the analysis channel.
const (
	EventConnected EventType = "connected"
	EventDelta     EventType = "delta"
	EventToolUse   EventType = "tool_use"
	EventStatus    EventType = "status"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventProgress  EventType = "progress"
)

// StreamEvent is one frame pushed over an event channel. An event without
// a SessionID is a channel-level handshake notice and carries no session
// semantics. Which payload fields are meaningful depends on Type.
type StreamEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`

	// Chat payload fields.
	Text      string `json:"text,omitempty"`      // delta
	MessageID string `json:"messageId,omitempty"` // complete
	Tool      string `json:"tool,omitempty"`      // tool_use
	Message   string `json:"message,omitempty"`   // status / error

	// Analysis payload fields. Levels is keyed by level number ("1".."4").
	Levels  map[string]LevelUpdate `json:"status,omitempty"`
	Outcome string                 `json:"outcome,omitempty"` // overall terminal state
}

// LevelUpdate is the per-level portion of a progress frame. Precedence when
// applying: Voices wins over VoiceID, VoiceID wins over the level-wide
// Status directive.
type LevelUpdate struct {
	Status  string            `json:"status,omitempty"`
	VoiceID string            `json:"voiceId,omitempty"`
	Voices  map[string]string `json:"voices,omitempty"`
}
