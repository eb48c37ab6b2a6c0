// Package stream applies chat stream events to a session's conversation
// state. The accumulator keeps working whether or not a UI sink is
// attached, so a backgrounded session loses nothing.
package stream

import (
	"strings"
	"sync"

	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// Sink receives rendering signals from an accumulator. A sink is only
// ever called while attached; it must not block for long since events are
// dispatched synchronously in arrival order.
type Sink interface {
	// OnDelta is called with each appended text fragment.
	OnDelta(text string)
	// OnToolUse and OnStatus are cosmetic signals with no durable state
	// effect; they are dropped entirely while detached.
	OnToolUse(tool string)
	OnStatus(message string)
	// OnComplete delivers the finalized assistant message.
	OnComplete(msg types.Message)
	// OnError delivers a user-facing stream error.
	OnError(message string)
}

// Accumulator holds the transient streaming state for one session.
type Accumulator struct {
	mu          sync.Mutex
	sessionID   string
	accumulated strings.Builder
	streaming   bool
	messages    []types.Message
	sink        Sink
}

// New creates an accumulator for a session.
func New(sessionID string) *Accumulator {
	return &Accumulator{sessionID: sessionID}
}

// SessionID returns the session this accumulator belongs to.
func (a *Accumulator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Attach installs a UI sink. Only one sink is attached at a time.
func (a *Accumulator) Attach(s Sink) {
	a.mu.Lock()
	a.sink = s
	a.mu.Unlock()
}

// Detach removes the UI sink. State keeps accumulating; only rendering
// signals are suppressed.
func (a *Accumulator) Detach() {
	a.mu.Lock()
	a.sink = nil
	a.mu.Unlock()
}

// DetachAndGet removes and returns the current sink, so a conversation
// switch can carry the attachment over to a new accumulator.
func (a *Accumulator) DetachAndGet() Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	sink := a.sink
	a.sink = nil
	return sink
}

// Apply folds one stream event into the session state. Whether a sink is
// attached must never change the eventual conversation record.
func (a *Accumulator) Apply(evt types.StreamEvent) {
	a.mu.Lock()
	sink := a.sink

	switch evt.Type {
	case types.EventDelta:
		a.accumulated.WriteString(evt.Text)
		a.streaming = true
		a.mu.Unlock()
		if sink != nil {
			sink.OnDelta(evt.Text)
		}

	case types.EventComplete:
		msg, ok := a.finalizeLocked(evt.MessageID)
		a.mu.Unlock()
		if ok && sink != nil {
			sink.OnComplete(msg)
		}

	case types.EventError:
		a.accumulated.Reset()
		a.streaming = false
		a.mu.Unlock()
		if sink != nil {
			sink.OnError(evt.Message)
		}

	case types.EventToolUse:
		a.mu.Unlock()
		if sink != nil {
			sink.OnToolUse(evt.Tool)
		}

	case types.EventStatus:
		a.mu.Unlock()
		if sink != nil {
			sink.OnStatus(evt.Message)
		}

	default:
		a.mu.Unlock()
	}
}

// finalizeLocked moves the accumulated text into the message record.
// An empty accumulation produces no message.
func (a *Accumulator) finalizeLocked(messageID string) (types.Message, bool) {
	defer func() {
		a.accumulated.Reset()
		a.streaming = false
	}()

	if a.accumulated.Len() == 0 {
		return types.Message{}, false
	}

	msg := types.Message{
		ID:        messageID,
		SessionID: a.sessionID,
		Role:      types.RoleAssistant,
		Content:   a.accumulated.String(),
	}
	a.messages = append(a.messages, msg)
	return msg, true
}

// Finalize closes out the in-flight turn with whatever has accumulated.
// Used on abort: the local view settles immediately without waiting for
// the abort round-trip.
func (a *Accumulator) Finalize(messageID string) {
	a.mu.Lock()
	msg, ok := a.finalizeLocked(messageID)
	sink := a.sink
	a.mu.Unlock()

	if ok && sink != nil {
		sink.OnComplete(msg)
	}
}

// Append records a message directly, e.g. the user's own message on send.
func (a *Accumulator) Append(msg types.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, msg)
	a.mu.Unlock()
}

// IsStreaming reports whether a turn is currently streaming.
func (a *Accumulator) IsStreaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streaming
}

// AccumulatedText returns the partial output accumulated so far.
func (a *Accumulator) AccumulatedText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accumulated.String()
}

// Messages returns a copy of the conversation record.
func (a *Accumulator) Messages() []types.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Message, len(a.messages))
	copy(out, a.messages)
	return out
}
